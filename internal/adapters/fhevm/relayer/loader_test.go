package relayer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderSharesOneDownloadAcrossConcurrentCallers(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		<-release
		_, _ = w.Write([]byte("sdk-bytes"))
	}))
	t.Cleanup(srv.Close)

	loader := NewLoader(srv.URL, srv.Client())

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for idx := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[idx], errs[idx] = loader.Load(context.Background())
		}()
	}
	close(release)
	wg.Wait()

	for idx := range callers {
		require.NoError(t, errs[idx])
		assert.Equal(t, []byte("sdk-bytes"), results[idx])
	}
	assert.Equal(t, int32(1), fetches.Load())

	_, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestLoaderDoesNotMemoizeFailures(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fetches.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("sdk-bytes"))
	}))
	t.Cleanup(srv.Close)

	loader := NewLoader(srv.URL, srv.Client())

	_, err := loader.Load(context.Background())
	require.ErrorContains(t, err, "status 502")

	module, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("sdk-bytes"), module)

	_, err = loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestLoaderWaiterHonoursItsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("sdk-bytes"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLoader(srv.URL, srv.Client()).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoaderRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewLoader("", nil).Load(context.Background())
	require.ErrorIs(t, err, ErrSDKNotConfigured)
}
