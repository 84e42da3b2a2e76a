package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fruitsalade/outputstore/internal/logging"
)

type extFormat string

func (e extFormat) Extension() string { return string(e) }

type mimeFormat struct {
	ext, mime string
}

func (m mimeFormat) Extension() string { return m.ext }
func (m mimeFormat) MimeType() string  { return m.mime }

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestRequired(t *testing.T) {
	tests := []struct {
		size, block, want int64
	}{
		{600, 512, 1024},
		{512, 512, 512},
		{513, 512, 1024},
		{1, 4096, 4096},
		{0, 512, 0},
		{-5, 512, 0},
		{100, 0, 100},
		{100, -1, 100},
	}
	for _, tt := range tests {
		if got := Required(tt.size, tt.block); got != tt.want {
			t.Errorf("Required(%d, %d) = %d, want %d", tt.size, tt.block, got, tt.want)
		}
	}
}

func TestRequiredIsBlockMultiple(t *testing.T) {
	for _, block := range []int64{1, 7, 512, 4096} {
		for size := int64(0); size < 3*block+3; size++ {
			got := Required(size, block)
			if got < size || got%block != 0 || got-size >= block {
				t.Fatalf("Required(%d, %d) = %d: not the smallest covering multiple", size, block, got)
			}
		}
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name, base, ext string
	}{
		{"file.tiff", "file", ".tiff"},
		{"archive.tar.gz", "archive.tar", ".gz"},
		{"result", "result", ""},
		{".bashrc", ".bashrc", ""},
		{"result.", "result", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		base, ext := SplitName(tt.name)
		if base != tt.base || ext != tt.ext {
			t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", tt.name, base, ext, tt.base, tt.ext)
		}
	}
}

func TestNamerResolve(t *testing.T) {
	n := Namer{Dir: t.TempDir()}

	tests := []struct {
		desc     string
		artifact Artifact
		base     string
		ext      string
	}{
		{"own extension wins", FileArtifact{Path: "/jobs/out/file.csv", Format: extFormat(".tiff")}, "file", ".csv"},
		{"declared format", FileArtifact{Path: "/jobs/out/result", Format: extFormat(".tiff")}, "result", ".tiff"},
		{"declared without dot", FileArtifact{Path: "result", Format: extFormat("nc")}, "result", ".nc"},
	}
	for _, tt := range tests {
		base, ext, err := n.Resolve(tt.artifact)
		if err != nil {
			t.Errorf("%s: Resolve: %v", tt.desc, err)
			continue
		}
		if base != tt.base || ext != tt.ext {
			t.Errorf("%s: got (%q, %q), want (%q, %q)", tt.desc, base, ext, tt.base, tt.ext)
		}
	}
}

func TestNamerResolveUnsupported(t *testing.T) {
	n := Namer{Dir: t.TempDir()}
	for _, a := range []Artifact{
		FileArtifact{Path: "result"},
		FileArtifact{Path: "result", Format: extFormat("")},
		FileArtifact{Path: "result", Format: extFormat("a/b")},
	} {
		_, _, err := n.Resolve(a)
		if !errors.Is(err, ErrUnsupportedArtifact) {
			t.Errorf("Resolve(%+v) error = %v, want unsupported artifact", a, err)
		}
	}
}

func TestNamerResolveDetect(t *testing.T) {
	n := Namer{
		Dir:    t.TempDir(),
		Detect: func(string) (Format, error) { return extFormat(".png"), nil },
	}
	_, ext, err := n.Resolve(FileArtifact{Path: "plot"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ext != ".png" {
		t.Errorf("ext = %q, want .png", ext)
	}

	n.Detect = func(string) (Format, error) { return nil, errors.New("unknown") }
	if _, _, err := n.Resolve(FileArtifact{Path: "plot"}); KindOf(err) != UnsupportedArtifact {
		t.Errorf("failed detection: error kind = %v, want %v", KindOf(err), UnsupportedArtifact)
	}
}

func TestNamerAllocate(t *testing.T) {
	dir := t.TempDir()
	n := Namer{Dir: dir}

	f, err := n.Allocate(FileArtifact{Path: "/tmp/result", Format: extFormat(".tiff")})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer f.Close()

	name := filepath.Base(f.Name())
	if !strings.HasPrefix(name, "result") || !strings.HasSuffix(name, ".tiff") {
		t.Errorf("allocated name %q, want result*.tiff", name)
	}
	if filepath.Dir(f.Name()) != dir {
		t.Errorf("allocated in %s, want %s", filepath.Dir(f.Name()), dir)
	}
}

func TestNamerAllocateConcurrentUnique(t *testing.T) {
	dir := t.TempDir()
	n := Namer{Dir: dir}
	a := FileArtifact{Path: "/jobs/1/output.json"}

	const workers = 64
	names := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := n.Allocate(a)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			f.Close()
			names <- filepath.Base(f.Name())
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool)
	for name := range names {
		if seen[name] {
			t.Fatalf("duplicate name %q", name)
		}
		seen[name] = true
	}
	if len(seen) != workers {
		t.Fatalf("got %d names, want %d", len(seen), workers)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != workers {
		t.Errorf("directory holds %d files, want %d", len(entries), workers)
	}
}

func TestNamerAllocateStarInName(t *testing.T) {
	n := Namer{Dir: t.TempDir()}
	f, err := n.Allocate(FileArtifact{Path: "weird*name", Format: extFormat(".c*v")})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	f.Close()
	if strings.Contains(filepath.Base(f.Name()), "*") {
		t.Errorf("allocated name %q still contains '*'", f.Name())
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		base, name, want string
	}{
		{"http://foo/bar/filestorage", "result123.tiff", "http://foo/bar/filestorage/result123.tiff"},
		{"http://foo/bar/filestorage/", "result123.tiff", "http://foo/bar/filestorage/result123.tiff"},
		{"http://foo//outputs", "a.csv", "http://foo/outputs/a.csv"},
		{"http://foo/outputs", "/var/lib/outputs/a.csv", "http://foo/outputs/a.csv"},
		{"http://foo/outputs", "a b#1.csv", "http://foo/outputs/a%20b%231.csv"},
		{"ftp://ftp.example.com/pub", "x.nc", "ftp://ftp.example.com/pub/x.nc"},
	}
	for _, tt := range tests {
		got, err := PublicURL(tt.base, tt.name)
		if err != nil {
			t.Errorf("PublicURL(%q, %q): %v", tt.base, tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PublicURL(%q, %q) = %q, want %q", tt.base, tt.name, got, tt.want)
		}
	}
}

func TestPublicURLRejectsTraversal(t *testing.T) {
	for _, name := range []string{"..", ".", "", "a/.."} {
		if u, err := PublicURL("http://foo/outputs", name); err == nil {
			t.Errorf("PublicURL(%q) = %q, want error", name, u)
		}
	}
}

func TestPlace(t *testing.T) {
	dir := t.TempDir()
	content := []byte("band1,band2\n1,2\n")
	src := writeFile(t, t.TempDir(), "result.csv", content)
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	f, err := Namer{Dir: dir}.Allocate(FileArtifact{Path: src})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	n, err := Place(src, f)
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("wrote %d bytes, want %d", n, len(content))
	}

	got, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	info, err := os.Stat(f.Name())
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), mtime)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the placed file", len(entries))
	}
}

func TestPlaceFailureRemovesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	f, err := Namer{Dir: dir}.Allocate(FileArtifact{Path: "missing.csv"})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := Place(filepath.Join(dir, "does-not-exist.csv"), f); err == nil {
		t.Fatal("Place succeeded for a missing source")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("directory holds %d entries after failed placement, want 0", len(entries))
	}
}

func TestStage(t *testing.T) {
	stageDir := t.TempDir()
	src := writeFile(t, t.TempDir(), "result", []byte("{}"))

	staged, err := Stage(Namer{Dir: stageDir}, FileArtifact{Path: src, Format: mimeFormat{".json", "application/json"}})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if !strings.HasSuffix(staged.Name, ".json") {
		t.Errorf("staged name %q, want .json suffix", staged.Name)
	}
	if staged.Size != 2 {
		t.Errorf("size = %d, want 2", staged.Size)
	}
	if staged.ContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", staged.ContentType)
	}
	if _, err := os.Stat(staged.Path); err != nil {
		t.Fatalf("staged copy missing: %v", err)
	}

	if err := staged.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(staged.Path); !os.IsNotExist(err) {
		t.Errorf("staged copy still present after Discard")
	}
	if err := staged.Discard(); err != nil {
		t.Errorf("second Discard: %v", err)
	}
}

func TestContentTypeFallback(t *testing.T) {
	if ct := ContentType(FileArtifact{Path: "x"}, "x.unknownext"); ct != "application/octet-stream" {
		t.Errorf("ContentType = %q, want application/octet-stream", ct)
	}
	if ct := ContentType(FileArtifact{Path: "x"}, "x.json"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("ContentType = %q, want application/json", ct)
	}
}

func TestErrorClassification(t *testing.T) {
	cause := errors.New("disk full")
	err := error(NewError(InsufficientCapacity, "store", "/tmp/a", cause))
	wrapped := errors.Join(errors.New("job 7"), err)

	if !errors.Is(wrapped, ErrInsufficientCapacity) {
		t.Error("errors.Is did not match ErrInsufficientCapacity")
	}
	if errors.Is(wrapped, ErrPlacementFailed) {
		t.Error("errors.Is matched the wrong sentinel")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if KindOf(wrapped) != InsufficientCapacity {
		t.Errorf("KindOf = %v, want %v", KindOf(wrapped), InsufficientCapacity)
	}
	if KindOf(cause) != Unclassified {
		t.Errorf("KindOf(plain error) = %v, want unclassified", KindOf(cause))
	}
	if msg := err.Error(); !strings.Contains(msg, "insufficient capacity") || !strings.Contains(msg, "disk full") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestNullBackend(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, KindNull, nil)
	if err != nil {
		t.Fatalf("New(null): %v", err)
	}
	for _, a := range []Artifact{nil, FileArtifact{Path: "/does/not/exist"}, FileArtifact{Path: "x", Format: extFormat(".csv")}} {
		res, err := Instrument(b).Store(ctx, a)
		if err != nil {
			t.Fatalf("Store: %v", err)
		}
		if res != NullResult {
			t.Errorf("Store = %+v, want NullResult", res)
		}
	}
	if !NullResult.IsZero() {
		t.Error("NullResult.IsZero() = false")
	}
}

func TestNewMissingDependency(t *testing.T) {
	// No remote backend package is linked into this test binary.
	for _, kind := range []Kind{KindFTP, KindObjectShare, KindCloudDrive} {
		_, err := New(context.Background(), kind, json.RawMessage(`{}`))
		if !errors.Is(err, ErrMissingDependency) {
			t.Errorf("New(%s) error = %v, want missing dependency", kind, err)
		}
	}
}

func TestNewBackendFromConfigUnknownType(t *testing.T) {
	if _, err := NewBackendFromConfig(context.Background(), "tape", nil); err == nil {
		t.Fatal("expected error for unknown backend type")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Register did not panic on duplicate kind")
		}
	}()
	Register(KindNull, func(context.Context, json.RawMessage) (Backend, error) { return Null{}, nil })
}

func TestKindText(t *testing.T) {
	res := Result{Kind: KindObjectShare, Locator: "/outputs/a.csv", URL: "https://example.com/s/a.csv"}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(b), `"kind":"objectshare"`) {
		t.Errorf("marshalled %s", b)
	}
	var back Result
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != res {
		t.Errorf("round trip = %+v, want %+v", back, res)
	}
	if _, err := ParseKind("floppy"); err == nil {
		t.Error("ParseKind accepted an unknown kind")
	}
}

func TestDiskSpace(t *testing.T) {
	dir := t.TempDir()
	c, err := DiskSpace.Probe(dir)
	if err != nil {
		t.Skipf("free space query unavailable: %v", err)
	}
	if c.Available < 0 {
		t.Errorf("Available = %d, want non-negative", c.Available)
	}
	if c.BlockSize <= 0 {
		t.Errorf("BlockSize = %d, want positive", c.BlockSize)
	}
	avail, err := Available(dir)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if avail < 0 {
		t.Errorf("Available = %d", avail)
	}
}
