package dcgan

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gorgonia.org/tensor"
)

// npyBytes Serializes one array in the NumPy v1.0 .npy format
func npyBytes(t *testing.T, descr string, shape []int, data interface{}) []byte {
	t.Helper()
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprintf("%d", d)
	}
	shapeStr := "(" + strings.Join(dims, ", ") + ")"
	if len(shape) == 1 {
		shapeStr = fmt.Sprintf("(%d,)", shape[0])
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, shapeStr)
	// pad to a 64-byte boundary, newline terminated, as numpy writes it
	pad := 64 - (10+len(header)+1)%64
	header += strings.Repeat(" ", pad) + "\n"

	buf := new(bytes.Buffer)
	buf.Write([]byte{0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0})
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(header))); err != nil {
		t.Fatal(err)
	}
	buf.WriteString(header)
	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// writeArchive Packs named members into a zip file under the test's temp dir
func writeArchive(t *testing.T, name string, members map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for member, content := range members {
		w, err := zw.Create(member)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadArchive(t *testing.T) {
	pixels := make([]uint8, 2*2*1*3)
	for i := range pixels {
		pixels[i] = uint8(i * 20)
	}
	path := writeArchive(t, "train.npz", map[string][]byte{
		"X.npy": npyBytes(t, "|u1", []int{2, 2, 1, 3}, pixels),
		"y.npy": npyBytes(t, "<i8", []int{3}, []int64{1, 2, 3}),
	})
	images, labels, err := LoadArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if !images.Shape().Eq(tensor.Shape{2, 2, 1, 3}) {
		t.Fatalf("expected image shape (2, 2, 1, 3), got %v", images.Shape())
	}
	if !labels.Shape().Eq(tensor.Shape{3}) {
		t.Fatalf("expected label shape (3), got %v", labels.Shape())
	}
	imageData := images.Data().([]float64)
	for i, p := range pixels {
		if imageData[i] != float64(p) {
			t.Fatalf("pixel %d decoded as %f, want %d", i, imageData[i], p)
		}
	}
	labelData := labels.Data().([]float64)
	for i, want := range []float64{1, 2, 3} {
		if labelData[i] != want {
			t.Fatalf("label %d decoded as %f, want %f", i, labelData[i], want)
		}
	}
}

func TestLoadArchiveFloatImages(t *testing.T) {
	path := writeArchive(t, "train.npz", map[string][]byte{
		"X.npy": npyBytes(t, "<f8", []int{1, 1, 1, 2}, []float64{0.25, 128.0}),
		"y.npy": npyBytes(t, "<i4", []int{2}, []int32{7, 9}),
	})
	images, labels, err := LoadArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := images.Data().([]float64); got[0] != 0.25 || got[1] != 128.0 {
		t.Fatalf("float images decoded as %v", got)
	}
	if got := labels.Data().([]float64); got[0] != 7 || got[1] != 9 {
		t.Fatalf("int32 labels decoded as %v", got)
	}
}

func TestLoadArchiveMissingMember(t *testing.T) {
	path := writeArchive(t, "broken.npz", map[string][]byte{
		"X.npy": npyBytes(t, "|u1", []int{1, 1, 1, 1}, []uint8{0}),
	})
	if _, _, err := LoadArchive(path); err == nil {
		t.Fatal("expected error for archive without labels")
	}
}

func TestLoadArchiveCountMismatch(t *testing.T) {
	path := writeArchive(t, "broken.npz", map[string][]byte{
		"X.npy": npyBytes(t, "|u1", []int{1, 1, 1, 3}, []uint8{0, 1, 2}),
		"y.npy": npyBytes(t, "<i8", []int{2}, []int64{1, 2}),
	})
	if _, _, err := LoadArchive(path); err == nil {
		t.Fatal("expected error for image/label count mismatch")
	}
}

func TestLoadArchiveRejectsNonImageRank(t *testing.T) {
	path := writeArchive(t, "broken.npz", map[string][]byte{
		"X.npy": npyBytes(t, "|u1", []int{2, 2}, []uint8{0, 1, 2, 3}),
		"y.npy": npyBytes(t, "<i8", []int{2}, []int64{1, 2}),
	})
	if _, _, err := LoadArchive(path); err == nil {
		t.Fatal("expected error for a 2D image array")
	}
}

func TestFetchDataset(t *testing.T) {
	content := []byte("archive-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fresh.npz" {
			http.NotFound(w, r)
			return
		}
		w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	// a pre-existing file must be kept as is, without hitting the server
	if err := os.WriteFile(filepath.Join(dir, "cached.npz"), []byte("local"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := FetchDataset(dir, server.URL, "cached.npz", "fresh.npz"); err != nil {
		t.Fatal(err)
	}
	cached, err := os.ReadFile(filepath.Join(dir, "cached.npz"))
	if err != nil {
		t.Fatal(err)
	}
	if string(cached) != "local" {
		t.Fatal("pre-existing archive was overwritten")
	}
	fetched, err := os.ReadFile(filepath.Join(dir, "fresh.npz"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(fetched, content) {
		t.Fatal("downloaded archive content differs from served content")
	}
	if err := FetchDataset(dir, server.URL, "missing.npz"); err == nil {
		t.Fatal("expected error for a file the server does not have")
	}
}
