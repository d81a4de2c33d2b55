package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io/fs"
	"strings"
	"testing"

	"github.com/cleanplanet/cleanplanet-web/internal/cryptoutil"
)

// makeTarGz builds a .tar.gz archive in memory from the given entries.
// Each entry is a path -> content pair.
func makeTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for name, content := range entries {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0640,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatalf("write tar header %q: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar content %q: %v", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// makeTarGzWithType builds a .tar.gz with a single entry of the given type flag.
func makeTarGzWithType(t *testing.T, name string, typeflag byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name:     name,
		Mode:     0640,
		Size:     0,
		Typeflag: typeflag,
	}
	if typeflag == tar.TypeSymlink {
		hdr.Linkname = "target"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("write tar header: %v", err)
	}
	tw.Close()
	gw.Close()
	return buf.Bytes()
}

// readWithHash

func TestReadWithHash_ComputesSHA256(t *testing.T) {
	payload := []byte("hello bundle")

	data, hash, err := readWithHash(bytes.NewReader(payload), 1024)
	if err != nil {
		t.Fatalf("readWithHash: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("data = %q, want %q", data, payload)
	}
	if want := cryptoutil.SHA256Hex(payload); hash != want {
		t.Fatalf("hash = %s, want %s", hash, want)
	}
}

func TestReadWithHash_RejectsOversize(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100)

	_, _, err := readWithHash(bytes.NewReader(payload), 99)
	if err == nil {
		t.Fatal("expected error for oversize content")
	}
}

func TestReadWithHash_ExactLimitOK(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100)

	data, _, err := readWithHash(bytes.NewReader(payload), 100)
	if err != nil {
		t.Fatalf("readWithHash at exact limit: %v", err)
	}
	if len(data) != 100 {
		t.Fatalf("len(data) = %d, want 100", len(data))
	}
}

// extractTarGzToMem

func TestExtractTarGzToMem_Basic(t *testing.T) {
	data := makeTarGz(t, map[string]string{
		"index.html":     "<html>hi</html>",
		"css/style.css":  "body{}",
		"assets/app.js":  "void 0;",
	})

	fsys, err := extractTarGzToMem(data)
	if err != nil {
		t.Fatalf("extractTarGzToMem: %v", err)
	}

	got, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		t.Fatalf("read index.html: %v", err)
	}
	if string(got) != "<html>hi</html>" {
		t.Fatalf("index.html = %q", got)
	}

	if _, err := fs.ReadFile(fsys, "css/style.css"); err != nil {
		t.Fatalf("read nested file: %v", err)
	}
}

func TestExtractTarGzToMem_NotGzip(t *testing.T) {
	if _, err := extractTarGzToMem([]byte("definitely not a gzip stream")); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}

func TestExtractTarGzToMem_RejectsTraversal(t *testing.T) {
	data := makeTarGz(t, map[string]string{
		"../../etc/passwd": "root:x",
	})

	if _, err := extractTarGzToMem(data); err == nil {
		t.Fatal("expected error for path traversal")
	}
}

func TestExtractTarGzToMem_RejectsAbsolute(t *testing.T) {
	data := makeTarGz(t, map[string]string{
		"/etc/motd": "hi",
	})

	if _, err := extractTarGzToMem(data); err == nil {
		t.Fatal("expected error for absolute path")
	}
}

func TestExtractTarGzToMem_RejectsSymlink(t *testing.T) {
	data := makeTarGzWithType(t, "evil-link", tar.TypeSymlink)

	_, err := extractTarGzToMem(data)
	if err == nil {
		t.Fatal("expected error for symlink entry")
	}
	if !strings.Contains(err.Error(), "unsupported file type") {
		t.Fatalf("error = %v, want unsupported file type", err)
	}
}

func TestExtractTarGzToMem_SkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "sub/",
		Mode:     0755,
		Typeflag: tar.TypeDir,
	}); err != nil {
		t.Fatalf("write dir header: %v", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "sub/page.html",
		Mode: 0640,
		Size: 4,
	}); err != nil {
		t.Fatalf("write file header: %v", err)
	}
	tw.Write([]byte("page"))
	tw.Close()
	gw.Close()

	fsys, err := extractTarGzToMem(buf.Bytes())
	if err != nil {
		t.Fatalf("extractTarGzToMem: %v", err)
	}
	if _, err := fs.ReadFile(fsys, "sub/page.html"); err != nil {
		t.Fatalf("read sub/page.html: %v", err)
	}
}

// bundleVersion

func TestBundleVersion_Present(t *testing.T) {
	data := makeTarGz(t, map[string]string{
		"index.html": "<html></html>",
		"VERSION":    "2.4.1\n",
	})
	fsys, err := extractTarGzToMem(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := bundleVersion(fsys); got != "2.4.1" {
		t.Fatalf("bundleVersion = %q, want 2.4.1", got)
	}
}

func TestBundleVersion_Missing(t *testing.T) {
	data := makeTarGz(t, map[string]string{"index.html": "<html></html>"})
	fsys, err := extractTarGzToMem(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := bundleVersion(fsys); got != "" {
		t.Fatalf("bundleVersion = %q, want empty", got)
	}
}
