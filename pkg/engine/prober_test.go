package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strconv"
	"testing"
	"time"
)

// proberForServer points a prober at an httptest server's port.
func proberForServer(t *testing.T, srv *httptest.Server) *Prober {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	p := NewProber(t.TempDir(), "python3", port, testLogger(t))
	p.pollInterval = 10 * time.Millisecond
	return p
}

func TestWaitReadySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/object_info" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := proberForServer(t, srv)
	if !p.WaitReady(context.Background(), 5*time.Second) {
		t.Fatal("WaitReady = false for a live endpoint")
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	// Server that never answers with 200.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := proberForServer(t, srv)
	start := time.Now()
	if p.WaitReady(context.Background(), 50*time.Millisecond) {
		t.Fatal("WaitReady = true for an unready endpoint")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("WaitReady did not respect the timeout")
	}
}

func TestIntrospectReturnsNodeTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"KSampler": {}, "CLIPTextEncode": {}, "VAEDecode": {}}`))
	}))
	defer srv.Close()

	p := proberForServer(t, srv)
	types, err := p.Introspect(context.Background())
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	want := []string{"CLIPTextEncode", "KSampler", "VAEDecode"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
}

func TestIntrospectMalformedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	p := proberForServer(t, srv)
	if _, err := p.Introspect(context.Background()); err == nil {
		t.Fatal("Introspect accepted a malformed document")
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	p := proberForServer(t, srv)

	if !p.IsRunning(context.Background()) {
		t.Error("IsRunning = false for a live endpoint")
	}
	srv.Close()
	if p.IsRunning(context.Background()) {
		t.Error("IsRunning = true after shutdown")
	}
}

func TestStopNilHandle(t *testing.T) {
	p := NewProber(t.TempDir(), "python3", 8188, testLogger(t))
	// Must not panic.
	p.Stop(nil)
}
