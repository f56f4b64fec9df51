package embedding_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Healer-AI/p8fs/internal/embedding"
)

func embedServer(t *testing.T, fail *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Add(-1) >= 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Return indices reversed to prove the client re-sorts.
		fmt.Fprint(w, `{"data":[`)
		for i := len(req.Input) - 1; i >= 0; i-- {
			fmt.Fprintf(w, `{"index":%d,"embedding":[%d,0.5]}`, i, i)
			if i > 0 {
				fmt.Fprint(w, ",")
			}
		}
		fmt.Fprint(w, `]}`)
	}))
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := embedServer(t, nil)
	defer srv.Close()

	p := embedding.NewHTTPProvider(embedding.Config{BaseURL: srv.URL, Dimension: 2}, zaptest.NewLogger(t))
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0], "vector %d must match its input position", i)
	}
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	var fail atomic.Int32
	fail.Store(2)
	srv := embedServer(t, &fail)
	defer srv.Close()

	p := embedding.NewHTTPProvider(embedding.Config{BaseURL: srv.URL, Dimension: 2}, zaptest.NewLogger(t))
	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err, "two 503s then success should still succeed")
	assert.Len(t, vec, 2)
}

func TestEmbedRejectedRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := embedding.NewHTTPProvider(embedding.Config{BaseURL: srv.URL}, zaptest.NewLogger(t))
	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestEmptyBatch(t *testing.T) {
	p := embedding.NewHTTPProvider(embedding.Config{BaseURL: "http://unused"}, zaptest.NewLogger(t))
	vecs, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
