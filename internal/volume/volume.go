package volume

import (
	"errors"
	"fmt"
	"math"

	"bidskit/internal/nifti"
)

var (
	// ErrShape reports an image whose dimensions rule out the transform.
	ErrShape = errors.New("volume: unexpected image shape")
	// ErrAmbiguousShape reports an image with no single squeezable axis.
	ErrAmbiguousShape = errors.New("volume: ambiguous singleton axes")
)

// SplitDualChannel separates a 4D image whose last axis holds exactly two
// channels into one 3D image per channel. Voxels are stored column-major,
// so each channel is a contiguous half of the data.
func SplitDualChannel(img *nifti.Image) (*nifti.Image, *nifti.Image, error) {
	shape := img.Shape()
	if len(shape) != 4 || shape[3] != 2 {
		return nil, nil, fmt.Errorf("%w: want 4D with 2 channels on the last axis, got %v", ErrShape, shape)
	}
	half := len(img.Data) / 2
	spatial := shape[:3]

	first := &nifti.Image{Header: img.Header, Data: append([]float64(nil), img.Data[:half]...)}
	second := &nifti.Image{Header: img.Header, Data: append([]float64(nil), img.Data[half:]...)}
	if err := first.SetShape(spatial); err != nil {
		return nil, nil, err
	}
	if err := second.SetShape(spatial); err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// MagnitudePhase combines a real and an imaginary image of equal shape
// into magnitude and phase images. Phase is in radians, in (-pi, pi].
func MagnitudePhase(real, imag *nifti.Image) (*nifti.Image, *nifti.Image, error) {
	if !sameShape(real.Shape(), imag.Shape()) {
		return nil, nil, fmt.Errorf("%w: real %v vs imaginary %v", ErrShape, real.Shape(), imag.Shape())
	}
	mag := &nifti.Image{Header: real.Header, Data: make([]float64, len(real.Data))}
	phase := &nifti.Image{Header: real.Header, Data: make([]float64, len(real.Data))}
	for i := range real.Data {
		r, im := real.Data[i], imag.Data[i]
		mag.Data[i] = math.Sqrt(r*r + im*im)
		phase.Data[i] = math.Atan2(im, r)
	}
	return mag, phase, nil
}

// SqueezeSingleton removes the single size-1 axis from a 4D image. Images
// with no singleton axis, or more than one, cannot be squeezed
// unambiguously.
func SqueezeSingleton(img *nifti.Image) error {
	shape := img.Shape()
	if len(shape) != 4 {
		return fmt.Errorf("%w: want a 4D image, got %v", ErrShape, shape)
	}
	singleton := -1
	for i, d := range shape {
		if d == 1 {
			if singleton >= 0 {
				return fmt.Errorf("%w: %v", ErrAmbiguousShape, shape)
			}
			singleton = i
		}
	}
	if singleton < 0 {
		return fmt.Errorf("%w: no singleton axis in %v", ErrAmbiguousShape, shape)
	}
	squeezed := make([]int, 0, 3)
	for i, d := range shape {
		if i != singleton {
			squeezed = append(squeezed, d)
		}
	}
	return img.SetShape(squeezed)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
