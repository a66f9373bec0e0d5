package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"bidskit/internal/nifti"
)

// WriteNIfTI writes a synthetic image with sequential voxel values to
// path. Paths ending in .gz are compressed.
func WriteNIfTI(t testing.TB, path string, shape []int) *nifti.Image {
	t.Helper()

	count := 1
	for _, d := range shape {
		count *= d
	}
	data := make([]float64, count)
	for i := range data {
		data[i] = float64(i)
	}
	img, err := nifti.NewImage(shape, data)
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dir for %s: %v", path, err)
	}
	if err := nifti.Save(path, img); err != nil {
		t.Fatalf("save %s: %v", path, err)
	}
	return img
}
