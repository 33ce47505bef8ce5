package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghostpub/ghostd/internal/store"
)

func newGatewayServer(t *testing.T, available map[string]bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.Query().Get("uri")
		ok, known := available[uri]
		if !known {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if ok {
			_, _ = w.Write([]byte(`{"available": true, "peers": 4}`))
		} else {
			_, _ = w.Write([]byte(`{"available": false, "peers": 0}`))
		}
	})
	return httptest.NewServer(mux)
}

func TestGatewayProber_MapsVerdicts(t *testing.T) {
	srv := newGatewayServer(t, map[string]bool{"u:alive": true, "u:gone": false})
	defer srv.Close()

	p, err := NewGatewayProber(srv.URL)
	require.NoError(t, err)
	defer p.Close()

	st, err := p.Probe(context.Background(), "u:alive")
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, st)

	st, err = p.Probe(context.Background(), "u:gone")
	require.NoError(t, err)
	require.Equal(t, store.StatusStale, st)

	_, err = p.Probe(context.Background(), "u:missing")
	require.Error(t, err, "non-200 gateway answers surface as errors")
}

func TestNewGatewayProber_RejectsUnhealthyGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewGatewayProber(srv.URL)
	require.Error(t, err)
}

func TestNewGatewayProber_RequiresURL(t *testing.T) {
	_, err := NewGatewayProber("")
	require.Error(t, err)
}
