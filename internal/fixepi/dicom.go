package fixepi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Philips private tags carrying the EPI timing parameters.
var (
	tagWaterFatShift    = tag.Tag{Group: 0x2001, Element: 0x1022}
	tagImagingFrequency = tag.Tag{Group: 0x0018, Element: 0x0084}
	tagEPIFactor        = tag.Tag{Group: 0x2001, Element: 0x1013}
)

// PhilipsParams are the scanner parameters needed to reconstruct the EPI
// readout time.
type PhilipsParams struct {
	WaterFatShift    float64
	ImagingFrequency float64
	EPIFactor        float64
}

// TotalReadoutTime derives the readout time in seconds from the echo
// spacing formula for Philips scanners.
func (p PhilipsParams) TotalReadoutTime() (float64, error) {
	denominator := p.ImagingFrequency * 3.4 * (p.EPIFactor + 1)
	if denominator == 0 {
		return 0, fmt.Errorf("degenerate scanner parameters: %+v", p)
	}
	echoSpacing := p.WaterFatShift / denominator
	return echoSpacing * p.EPIFactor, nil
}

// DicomReader extracts the Philips timing parameters from a DICOM file.
type DicomReader interface {
	ReadPhilipsParams(path string) (PhilipsParams, error)
}

type fileDicomReader struct{}

func (fileDicomReader) ReadPhilipsParams(path string) (PhilipsParams, error) {
	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return PhilipsParams{}, fmt.Errorf("parse DICOM %s: %w", path, err)
	}

	var params PhilipsParams
	for _, field := range []struct {
		name string
		tag  tag.Tag
		dest *float64
	}{
		{"water fat shift", tagWaterFatShift, &params.WaterFatShift},
		{"imaging frequency", tagImagingFrequency, &params.ImagingFrequency},
		{"EPI factor", tagEPIFactor, &params.EPIFactor},
	} {
		element, err := dataset.FindElementByTag(field.tag)
		if err != nil {
			return PhilipsParams{}, fmt.Errorf("missing tag (%04X,%04X) %s: %w",
				field.tag.Group, field.tag.Element, field.name, err)
		}
		value, err := numericValue(element.Value.GetValue())
		if err != nil {
			return PhilipsParams{}, fmt.Errorf("tag (%04X,%04X) %s: %w",
				field.tag.Group, field.tag.Element, field.name, err)
		}
		*field.dest = value
	}
	return params, nil
}

// numericValue extracts the first numeric value from a decoded DICOM
// element. Private tags come back as different Go types depending on the
// VR declared by the file, so every plausible shape is handled.
func numericValue(raw any) (float64, error) {
	switch v := raw.(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], nil
		}
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case []string:
		if len(v) > 0 {
			value, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64)
			if err != nil {
				return 0, fmt.Errorf("non-numeric value %q", v[0])
			}
			return value, nil
		}
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fmt.Errorf("no numeric value in %T", raw)
}
