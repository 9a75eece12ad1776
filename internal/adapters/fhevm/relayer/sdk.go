package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Op selects an SDK entry point behind gs_call.
type Op uint32

const (
	OpInit        Op = 1
	OpKeypair     Op = 2
	OpEncrypt     Op = 3
	OpUserDecrypt Op = 4
)

func (o Op) String() string {
	switch o {
	case OpInit:
		return "init"
	case OpKeypair:
		return "keypair"
	case OpEncrypt:
		return "encrypt"
	case OpUserDecrypt:
		return "user_decrypt"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

const (
	exportMemory = "memory"
	exportAlloc  = "gs_alloc"
	exportCall   = "gs_call"
)

// SDK hosts the relayer SDK WebAssembly module. The module exports memory,
// gs_alloc(len) -> ptr and gs_call(op, ptr, len) -> ptr<<32 | len; requests
// and responses are JSON documents in module memory.
type SDK struct {
	runtime wazero.Runtime
	module  api.Module
	alloc   api.Function
	call    api.Function

	mu          sync.Mutex
	initialized bool
}

type sdkResponse struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
}

func Instantiate(ctx context.Context, wasm []byte) (_ *SDK, err error) {
	runtime := wazero.NewRuntime(ctx)
	defer func() {
		if err != nil {
			_ = runtime.Close(ctx)
		}
	}()

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile relayer sdk: %w", err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("relayer-sdk").WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("instantiate relayer sdk: %w", err)
	}

	if module.Memory() == nil {
		return nil, fmt.Errorf("relayer sdk: missing export %q", exportMemory)
	}
	alloc := module.ExportedFunction(exportAlloc)
	if alloc == nil {
		return nil, fmt.Errorf("relayer sdk: missing export %q", exportAlloc)
	}
	call := module.ExportedFunction(exportCall)
	if call == nil {
		return nil, fmt.Errorf("relayer sdk: missing export %q", exportCall)
	}

	return &SDK{runtime: runtime, module: module, alloc: alloc, call: call}, nil
}

func (s *SDK) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}

// Init runs the module's initialisation once. A failed init is retried on
// the next call.
func (s *SDK) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if err := s.invoke(ctx, OpInit, struct{}{}, nil); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// Call invokes op with request and decodes the result into response when
// response is non-nil.
func (s *SDK) Call(ctx context.Context, op Op, request any, response any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("relayer sdk is not initialised")
	}
	return s.invoke(ctx, op, request, response)
}

func (s *SDK) invoke(ctx context.Context, op Op, request any, response any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode sdk %s request: %w", op, err)
	}

	allocated, err := s.alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return fmt.Errorf("sdk %s: allocate: %w", op, err)
	}
	ptr := uint32(allocated[0])
	if !s.module.Memory().Write(ptr, payload) {
		return fmt.Errorf("sdk %s: request out of memory bounds", op)
	}

	packed, err := s.call.Call(ctx, uint64(op), uint64(ptr), uint64(len(payload)))
	if err != nil {
		return fmt.Errorf("sdk %s: %w", op, err)
	}
	outPtr, outLen := uint32(packed[0]>>32), uint32(packed[0])

	view, ok := s.module.Memory().Read(outPtr, outLen)
	if !ok {
		return fmt.Errorf("sdk %s: response out of memory bounds", op)
	}
	// view aliases module memory, which the next call may overwrite.
	raw := append([]byte{}, view...)

	var envelope sdkResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode sdk %s response: %w", op, err)
	}
	if !envelope.OK {
		if envelope.Error == "" {
			envelope.Error = "unknown error"
		}
		return fmt.Errorf("sdk %s: %s", op, envelope.Error)
	}
	if response == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, response); err != nil {
		return fmt.Errorf("decode sdk %s result: %w", op, err)
	}
	return nil
}
