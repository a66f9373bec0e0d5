package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Image is a decoded NIfTI-1 image. Voxels are stored in the file's
// column-major order with header scaling already applied.
type Image struct {
	Header Header
	Data   []float64
}

// NewImage builds an image over fresh float32 defaults for the given shape.
// The data slice length must match the shape's element count.
func NewImage(shape []int, data []float64) (*Image, error) {
	if len(shape) == 0 || len(shape) > 7 {
		return nil, fmt.Errorf("nifti: shape must have 1 to 7 axes, got %d", len(shape))
	}
	count := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("nifti: non-positive dimension %d", d)
		}
		count *= d
	}
	if count != len(data) {
		return nil, fmt.Errorf("nifti: shape wants %d voxels, data has %d", count, len(data))
	}
	img := &Image{Data: data}
	img.Header.SizeofHdr = headerSize
	img.Header.Dim[0] = int16(len(shape))
	for i := range img.Header.Dim {
		if i > 0 {
			img.Header.Dim[i] = 1
		}
	}
	for i, d := range shape {
		img.Header.Dim[i+1] = int16(d)
	}
	for i := range img.Header.Pixdim {
		img.Header.Pixdim[i] = 1
	}
	img.Header.Datatype = DTFloat32
	img.Header.Bitpix = 32
	img.Header.SclSlope = 1
	img.Header.SformCode = 1
	img.Header.SrowX = [4]float32{1, 0, 0, 0}
	img.Header.SrowY = [4]float32{0, 1, 0, 0}
	img.Header.SrowZ = [4]float32{0, 0, 1, 0}
	copy(img.Header.Magic[:], "n+1\x00")
	return img, nil
}

// Shape returns the image dimensions.
func (img *Image) Shape() []int {
	return img.Header.Shape()
}

// SetShape rewrites the header dimensions for the current data. Element
// count must be preserved.
func (img *Image) SetShape(shape []int) error {
	if len(shape) == 0 || len(shape) > 7 {
		return fmt.Errorf("nifti: shape must have 1 to 7 axes, got %d", len(shape))
	}
	count := 1
	for _, d := range shape {
		count *= d
	}
	if count != len(img.Data) {
		return fmt.Errorf("nifti: shape wants %d voxels, data has %d", count, len(img.Data))
	}
	img.Header.Dim = [8]int16{}
	img.Header.Dim[0] = int16(len(shape))
	for i := range img.Header.Dim {
		if i > 0 {
			img.Header.Dim[i] = 1
		}
	}
	for i, d := range shape {
		img.Header.Dim[i+1] = int16(d)
	}
	return nil
}

// LoadHeader reads just the header of a NIfTI file.
func LoadHeader(path string) (*Header, error) {
	raw, err := readMaybeGzip(path, headerSize+4)
	if err != nil {
		return nil, err
	}
	hdr, _, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return hdr, nil
}

// Load reads a complete image, normalizing voxels to float64 and applying
// scl_slope/scl_inter.
func Load(path string) (*Image, error) {
	raw, err := readMaybeGzip(path, 0)
	if err != nil {
		return nil, err
	}
	hdr, order, err := parseHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	count := 1
	for _, d := range hdr.Shape() {
		if d <= 0 {
			return nil, fmt.Errorf("%s: nifti: non-positive dimension %d", filepath.Base(path), d)
		}
		count *= d
	}
	offset := int(hdr.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	elemSize := int(hdr.Bitpix) / 8
	if len(raw) < offset+count*elemSize {
		return nil, fmt.Errorf("%s: nifti: truncated voxel data", filepath.Base(path))
	}
	voxels := raw[offset : offset+count*elemSize]

	data := make([]float64, count)
	switch hdr.Datatype {
	case DTUint8:
		for i := range data {
			data[i] = float64(voxels[i])
		}
	case DTInt16:
		for i := range data {
			data[i] = float64(int16(order.Uint16(voxels[i*2:])))
		}
	case DTUint16:
		for i := range data {
			data[i] = float64(order.Uint16(voxels[i*2:]))
		}
	case DTInt32:
		for i := range data {
			data[i] = float64(int32(order.Uint32(voxels[i*4:])))
		}
	case DTFloat32:
		for i := range data {
			data[i] = float64(math.Float32frombits(order.Uint32(voxels[i*4:])))
		}
	case DTFloat64:
		for i := range data {
			data[i] = math.Float64frombits(order.Uint64(voxels[i*8:]))
		}
	default:
		return nil, fmt.Errorf("%s: nifti: unsupported datatype %d", filepath.Base(path), hdr.Datatype)
	}

	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i := range data {
			data[i] = data[i]*slope + inter
		}
	}

	// Data is normalized now, so the in-memory header must not re-scale.
	hdr.SclSlope = 1
	hdr.SclInter = 0
	return &Image{Header: *hdr, Data: data}, nil
}

// Save writes the image as little-endian float32. Paths ending in .gz are
// gzip-compressed. The write goes through a temporary file in the target
// directory so readers never observe a half-written image.
func Save(path string, img *Image) error {
	hdr := img.Header
	hdr.SizeofHdr = headerSize
	hdr.Datatype = DTFloat32
	hdr.Bitpix = 32
	hdr.VoxOffset = 352
	hdr.SclSlope = 1
	hdr.SclInter = 0
	hdr.Magic = [4]byte{}
	copy(hdr.Magic[:], "n+1\x00")

	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("nifti: encode header: %w", err)
	}
	// Pad out to vox_offset; the single-file format leaves a 4-byte
	// extension flag after the header.
	body.Write(make([]byte, int(hdr.VoxOffset)-headerSize))

	scratch := make([]byte, 4)
	for _, v := range img.Data {
		binary.LittleEndian.PutUint32(scratch, math.Float32bits(float32(v)))
		body.Write(scratch)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".nifti-*")
	if err != nil {
		return fmt.Errorf("nifti: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var sink io.Writer = tmp
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(tmp)
		sink = gz
	}
	if _, err := sink.Write(body.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("nifti: write %s: %w", filepath.Base(path), err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			tmp.Close()
			return fmt.Errorf("nifti: compress %s: %w", filepath.Base(path), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("nifti: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("nifti: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readMaybeGzip reads a file, transparently decompressing gzip content.
// When limit is positive only that many decompressed bytes are read, which
// keeps header-only loads cheap on large compressed images.
func readMaybeGzip(path string, limit int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src io.Reader = f
	head := make([]byte, 2)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if n == 2 && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("nifti: open gzip %s: %w", filepath.Base(path), err)
		}
		defer gz.Close()
		src = gz
	}
	if limit > 0 {
		buf := make([]byte, limit)
		n, err := io.ReadFull(src, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
		return buf, nil
	}
	return io.ReadAll(src)
}
