package download

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("failed to listen for httptest server: %v", err)
	}
	server := httptest.NewUnstartedServer(handler)
	server.Listener.Close()
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)
	return server
}

func TestFetchWritesFreshFile(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("print('hi')"))
	}))

	dir := t.TempDir()
	client := NewClient()
	first, err := client.Fetch(context.Background(), server.URL+"/get-pip.py", dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := client.Fetch(context.Background(), server.URL+"/get-pip.py", dir)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct file names, got %s twice", first)
	}
	if filepath.Dir(first) != dir {
		t.Fatalf("expected file inside %s, got %s", dir, first)
	}
	if !strings.HasSuffix(first, "-get-pip.py") {
		t.Fatalf("expected base name to be kept: %s", first)
	}

	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "print('hi')" {
		t.Fatalf("unexpected content: %q", string(data))
	}
}

func TestFetchStatusError(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))

	dir := t.TempDir()
	_, err := NewClient().Fetch(context.Background(), server.URL+"/missing.exe", dir)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Kind != KindStatus || netErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", netErr)
	}
	if !IsStatus(err) {
		t.Fatalf("expected IsStatus to be true")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no file to be written, found %d", len(entries))
	}
}

func TestFetchTransportError(t *testing.T) {
	server := newTestServer(t, http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient().Fetch(context.Background(), url+"/x", t.TempDir())
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Kind != KindTransport {
		t.Fatalf("expected transport kind, got %s", netErr.Kind)
	}
	if IsStatus(err) {
		t.Fatalf("transport failure must not be a status error")
	}
}

func TestGetReturnsBody(t *testing.T) {
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "bootstrapper-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`<a href="3.12.1/">3.12.1/</a>`))
	}))

	body, err := NewClient(WithUserAgent("bootstrapper-test")).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(string(body), "3.12.1") {
		t.Fatalf("unexpected body: %q", string(body))
	}
}

func TestGetRejectsOversizedBody(t *testing.T) {
	body := strings.Repeat("x", 64)
	server := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))

	_, err := NewClient(WithMaxBody(63)).Get(context.Background(), server.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	got, err := NewClient(WithMaxBody(64)).Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("get at limit: %v", err)
	}
	if string(got) != body {
		t.Fatalf("unexpected body length %d", len(got))
	}
}

func TestFileNameFallback(t *testing.T) {
	name := fileName("https://example.com/")
	if !strings.HasSuffix(name, "-download") {
		t.Fatalf("expected fallback base name, got %s", name)
	}
}
