package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/outputstore/internal/catalog"
	"github.com/fruitsalade/outputstore/internal/format"
	"github.com/fruitsalade/outputstore/internal/logging"
	"github.com/fruitsalade/outputstore/internal/storage"
	"github.com/fruitsalade/outputstore/internal/storage/local"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

type testEnv struct {
	url     string
	dir     string
	backend *local.LocalBackend
}

// newTestEnv starts a server whose local backend publishes under its own
// /outputs/ path, so returned URLs can be fetched directly.
func newTestEnv(t *testing.T, probe storage.SpaceProbe, lister Lister) *testEnv {
	t.Helper()
	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	b, err := local.New(local.Config{TargetDir: dir, BaseURL: srv.URL + "/outputs"}, local.WithSpaceProbe(probe))
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	handler = NewServer(storage.Instrument(b), Options{OutputDir: dir, Prefix: "outputs", Catalog: lister}).Handler()
	return &testEnv{url: srv.URL, dir: dir, backend: b}
}

func plenty() storage.SpaceProbe {
	return storage.SpaceProbeFunc(func(string) (storage.Capacity, error) {
		return storage.Capacity{Available: 1 << 30, BlockSize: 4096}, nil
	})
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, plenty(), nil)
	code, body := get(t, env.url+"/health")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got map[string]string
	json.Unmarshal(body, &got)
	if got["status"] != "ok" || got["backend"] != "local" {
		t.Errorf("health = %v", got)
	}
}

func TestRoundTrip(t *testing.T) {
	env := newTestEnv(t, plenty(), nil)
	content := []byte("lat,lon,value\n52.1,4.3,0.75\n")
	src := filepath.Join(t.TempDir(), "result")
	if err := os.WriteFile(src, content, 0644); err != nil {
		t.Fatal(err)
	}

	res, err := env.backend.Store(context.Background(), storage.FileArtifact{Path: src, Format: format.CSV})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	code, body := get(t, res.URL)
	if code != http.StatusOK {
		t.Fatalf("GET %s: status %d", res.URL, code)
	}
	if !bytes.Equal(body, content) {
		t.Errorf("fetched %q, want %q", body, content)
	}
}

func TestStoreEndpoint(t *testing.T) {
	env := newTestEnv(t, plenty(), nil)
	content := []byte("a,b\n1,2\n")

	resp, err := http.Post(env.url+"/api/v1/outputs?name=result&format=text/csv", "application/octet-stream", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var res storage.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Kind != storage.KindLocal || !strings.HasSuffix(res.URL, ".csv") {
		t.Errorf("result = %+v", res)
	}
	if resp.Header.Get("Location") != res.URL {
		t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), res.URL)
	}

	_, body := get(t, res.URL)
	if !bytes.Equal(body, content) {
		t.Errorf("fetched %q, want %q", body, content)
	}
}

func TestStoreEndpointErrors(t *testing.T) {
	full := storage.SpaceProbeFunc(func(string) (storage.Capacity, error) {
		return storage.Capacity{Available: 1000, BlockSize: 512}, nil
	})
	env := newTestEnv(t, full, nil)

	tests := []struct {
		query string
		size  int
		code  int
		kind  string
	}{
		{"name=result.csv", 600, http.StatusInsufficientStorage, "insufficient_capacity"},
		{"name=result", 10, http.StatusUnprocessableEntity, "unsupported_artifact"},
		{"name=result&format=application/x-unknown-thing", 10, http.StatusUnprocessableEntity, "unsupported_artifact"},
	}
	for _, tt := range tests {
		resp, err := http.Post(env.url+"/api/v1/outputs?"+tt.query, "application/octet-stream",
			bytes.NewReader(bytes.Repeat([]byte("x"), tt.size)))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		var e errorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		resp.Body.Close()
		if resp.StatusCode != tt.code || e.Kind != tt.kind {
			t.Errorf("%s: status %d kind %q, want %d %q", tt.query, resp.StatusCode, e.Kind, tt.code, tt.kind)
		}
	}
	entries, _ := os.ReadDir(env.dir)
	if len(entries) != 0 {
		t.Errorf("target dir holds %d files after failed stores", len(entries))
	}
}

func TestOutputsHideInternalFiles(t *testing.T) {
	env := newTestEnv(t, plenty(), nil)
	os.WriteFile(filepath.Join(env.dir, ".result.csv.partial-123"), []byte("partial"), 0644)
	os.Mkdir(filepath.Join(env.dir, "sub"), 0755)

	for _, p := range []string{"/outputs/", "/outputs/.result.csv.partial-123", "/outputs/sub", "/outputs/missing.csv", "/outputs/..%2f..%2fetc%2fpasswd"} {
		if code, _ := get(t, env.url+p); code != http.StatusNotFound {
			t.Errorf("GET %s: status %d, want 404", p, code)
		}
	}
}

type fakeLister struct {
	entries []catalog.Entry
	err     error
	limit   int
}

func (f *fakeLister) Recent(_ context.Context, limit int) ([]catalog.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func TestListOutputs(t *testing.T) {
	lister := &fakeLister{entries: []catalog.Entry{{
		ID:        "1",
		Result:    storage.Result{Kind: storage.KindFTP, Locator: "/pub/a.csv", URL: "ftp://h/pub/a.csv"},
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	env := newTestEnv(t, plenty(), lister)

	code, body := get(t, env.url+"/api/v1/outputs?limit=5")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var got []catalog.Entry
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Result.Kind != storage.KindFTP || lister.limit != 5 {
		t.Errorf("got %+v (limit %d)", got, lister.limit)
	}

	lister.err = errors.New("db down")
	if code, _ := get(t, env.url+"/api/v1/outputs"); code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}

func TestListWithoutCatalog(t *testing.T) {
	env := newTestEnv(t, plenty(), nil)
	if code, _ := get(t, env.url+"/api/v1/outputs"); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind storage.ErrorKind
		want int
	}{
		{storage.InsufficientCapacity, http.StatusInsufficientStorage},
		{storage.UnsupportedArtifact, http.StatusUnprocessableEntity},
		{storage.MissingDependency, http.StatusNotImplemented},
		{storage.AuthenticationFailed, http.StatusBadGateway},
		{storage.TransmissionFailed, http.StatusBadGateway},
		{storage.PlacementFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(storage.NewError(tt.kind, "store", "x", nil)); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
