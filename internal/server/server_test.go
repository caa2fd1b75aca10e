package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/server"
	"github.com/kilnbuild/kiln/pkg/domain"
)

type mapSource map[string][]byte

func (m mapSource) Content(_ context.Context, path string) ([]byte, bool, error) {
	data, ok := m[path]
	return data, ok, nil
}

func newTestServer(t *testing.T, s *server.Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_ServesBuildView(t *testing.T) {
	source := mapSource{
		"web/index.html": []byte("<html>home</html>"),
		"web/main.js":    []byte("console.log(1)"),
	}
	ts := newTestServer(t, &server.Server{Source: source, Subdir: "web"})

	resp := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "bare / maps to index.html")
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = get(t, ts.URL+"/main.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts.URL+"/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	ts := newTestServer(t, &server.Server{Source: mapSource{}})
	resp := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	metrics := server.NewMetrics()
	hooks := metrics.Hooks()
	hooks.OnBuildEnd(context.Background(), &domain.BuildEvent{
		Duration: time.Second, Failed: 0,
	})

	ts := newTestServer(t, &server.Server{Source: mapSource{}, Metrics: metrics})
	resp := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_GateDelaysRequestsDuringBuild(t *testing.T) {
	gate := &server.Gate{}
	source := mapSource{"index.html": []byte("ok")}
	ts := newTestServer(t, &server.Server{Source: source, Gate: gate})

	gate.StartBuild()

	done := make(chan int, 1)
	var started sync.WaitGroup
	started.Add(1)
	go func() {
		started.Done()
		resp, err := http.Get(ts.URL + "/index.html")
		if err != nil {
			done <- 0
			return
		}
		defer resp.Body.Close()
		done <- resp.StatusCode
	}()
	started.Wait()

	select {
	case <-done:
		t.Fatal("request completed while a build was running")
	case <-time.After(100 * time.Millisecond):
	}

	gate.FinishBuild()
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("request never completed after the build finished")
	}
}
