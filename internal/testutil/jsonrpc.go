// Package testutil holds fakes shared by adapter tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// RPCHandler answers one JSON-RPC method. A non-nil *RPCError is sent as a
// JSON-RPC error object.
type RPCHandler func(params []json.RawMessage) (any, *RPCError)

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCServer is an httptest JSON-RPC 2.0 endpoint with per-method handlers.
type RPCServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]RPCHandler
	calls    map[string]int
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func NewRPCServer(t *testing.T, handlers map[string]RPCHandler) *RPCServer {
	t.Helper()

	srv := &RPCServer{handlers: map[string]RPCHandler{}, calls: map[string]int{}}
	for method, handler := range handlers {
		srv.handlers[method] = handler
	}
	srv.Server = httptest.NewServer(http.HandlerFunc(srv.serve))
	t.Cleanup(srv.Close)

	return srv
}

func (s *RPCServer) Handle(method string, handler RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

func (s *RPCServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *RPCServer) serve(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.Method]
	s.calls[req.Method]++
	s.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if !ok {
		resp.Error = &RPCError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method)}
	} else {
		result, rpcErr := handler(req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else if result == nil {
			resp.Result = json.RawMessage("null")
		} else {
			resp.Result = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Static returns a handler that always answers with result.
func Static(result any) RPCHandler {
	return func([]json.RawMessage) (any, *RPCError) {
		return result, nil
	}
}
