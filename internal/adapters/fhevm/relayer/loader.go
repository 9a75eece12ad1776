package relayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrSDKNotConfigured is returned when relayer mode is needed but no SDK
// module URL was set.
var ErrSDKNotConfigured = errors.New("relayer.sdk_url not configured")

const (
	maxSDKBytes           = 64 << 20
	defaultRequestTimeout = 30 * time.Second
	loadKey               = "sdk"
)

// Loader downloads the relayer SDK module. Concurrent callers share one
// in-flight download; a successful download is kept for the life of the
// Loader and a failed one is retried by the next caller.
type Loader struct {
	URL            string
	HTTPClient     *http.Client
	RequestTimeout time.Duration

	group  singleflight.Group
	mu     sync.Mutex
	module []byte
}

func NewLoader(url string, client *http.Client) *Loader {
	return &Loader{URL: url, HTTPClient: client}
}

func (l *Loader) Load(ctx context.Context) ([]byte, error) {
	if module := l.cached(); module != nil {
		return module, nil
	}

	// The download outlives any single caller so a cancelled waiter does not
	// fail the others sharing it.
	fetchCtx := context.WithoutCancel(ctx)
	result := l.group.DoChan(loadKey, func() (any, error) {
		if module := l.cached(); module != nil {
			return module, nil
		}
		module, err := l.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.module = module
		l.mu.Unlock()
		return module, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (l *Loader) cached() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.module
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	if l.URL == "" {
		return nil, ErrSDKNotConfigured
	}

	reqCtx, cancel := l.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create sdk request: %w", err)
	}

	resp, err := l.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("download relayer sdk: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("download relayer sdk: status %d", resp.StatusCode)
	}

	module, err := io.ReadAll(io.LimitReader(resp.Body, maxSDKBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read relayer sdk: %w", err)
	}
	if len(module) > maxSDKBytes {
		return nil, fmt.Errorf("relayer sdk exceeds %d bytes", maxSDKBytes)
	}
	if len(module) == 0 {
		return nil, errors.New("relayer sdk is empty")
	}
	return module, nil
}

func (l *Loader) httpClient() *http.Client {
	if l.HTTPClient != nil {
		return l.HTTPClient
	}
	return http.DefaultClient
}

func (l *Loader) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	timeout := l.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
