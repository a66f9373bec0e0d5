package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// headerSize is the fixed NIfTI-1 header length in bytes.
const headerSize = 348

// Supported on-disk datatypes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTUint16  int16 = 512
)

// Header is the raw NIfTI-1 header. Field layout matches the on-disk
// struct exactly, so it can be read and written with encoding/binary.
type Header struct {
	SizeofHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Shape returns the image dimensions as declared by the header.
func (h *Header) Shape() []int {
	n := int(h.Dim[0])
	if n < 0 {
		n = 0
	}
	if n > 7 {
		n = 7
	}
	shape := make([]int, n)
	for i := 0; i < n; i++ {
		shape[i] = int(h.Dim[i+1])
	}
	return shape
}

// AxisCodes derives the anatomical orientation of the three spatial axes
// from the sform matrix, one letter per axis (R/L, A/P, S/I). Images
// without a usable sform report an error rather than a guess.
func (h *Header) AxisCodes() (string, error) {
	if h.SformCode <= 0 {
		return "", fmt.Errorf("nifti: no sform affine to derive orientation from")
	}
	rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
	// Column j of the affine maps voxel axis j into scanner RAS space; the
	// dominant row tells which anatomical direction the axis runs along.
	positive := [3]byte{'R', 'A', 'S'}
	negative := [3]byte{'L', 'P', 'I'}
	codes := make([]byte, 3)
	for j := 0; j < 3; j++ {
		best := 0
		var bestAbs float32
		for i := 0; i < 3; i++ {
			v := rows[i][j]
			if v < 0 {
				v = -v
			}
			if v > bestAbs {
				bestAbs = v
				best = i
			}
		}
		if bestAbs == 0 {
			return "", fmt.Errorf("nifti: degenerate sform, axis %d has no direction", j)
		}
		if rows[best][j] >= 0 {
			codes[j] = positive[best]
		} else {
			codes[j] = negative[best]
		}
	}
	return string(codes), nil
}

// parseHeader decodes a header from raw bytes, detecting the byte order
// from the sizeof_hdr field.
func parseHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("nifti: file too short for header (%d bytes)", len(raw))
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		if order.Uint32(raw[:4]) != headerSize {
			continue
		}
		var hdr Header
		if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, &hdr); err != nil {
			return nil, nil, fmt.Errorf("nifti: decode header: %w", err)
		}
		magic := string(hdr.Magic[:3])
		if magic != "n+1" && magic != "ni1" {
			return nil, nil, fmt.Errorf("nifti: bad magic %q", magic)
		}
		return &hdr, order, nil
	}
	return nil, nil, fmt.Errorf("nifti: sizeof_hdr is not 348 in either byte order")
}
