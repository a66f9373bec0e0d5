package config

import (
	"fmt"
	"strings"
)

var validSliceOrders = map[string]bool{
	"up":   true,
	"down": true,
	"odd":  true,
	"even": true,
}

// Validate checks field values that later steps depend on. It normalizes
// case where doing so is unambiguous.
func (c *Config) Validate() error {
	c.Acquisition.Orientation = strings.ToUpper(strings.TrimSpace(c.Acquisition.Orientation))
	if len(c.Acquisition.Orientation) != 3 {
		return fmt.Errorf("acquisition.orientation must be a three-letter code, got %q", c.Acquisition.Orientation)
	}
	for _, r := range c.Acquisition.Orientation {
		if !strings.ContainsRune("LRAPSI", r) {
			return fmt.Errorf("acquisition.orientation contains invalid axis %q", string(r))
		}
	}

	c.Acquisition.SliceOrder = strings.ToLower(strings.TrimSpace(c.Acquisition.SliceOrder))
	if !validSliceOrders[c.Acquisition.SliceOrder] {
		return fmt.Errorf("acquisition.slice_order must be one of up, down, odd, even; got %q", c.Acquisition.SliceOrder)
	}

	if c.Acquisition.SliceDirection < 1 || c.Acquisition.SliceDirection > 3 {
		return fmt.Errorf("acquisition.slice_direction must be 1, 2 or 3; got %d", c.Acquisition.SliceDirection)
	}

	if _, _, err := PhaseDirections(c.Acquisition.APPhaseEncoding); err != nil {
		return err
	}

	if c.Acquisition.QCMemoryGB <= 0 {
		return fmt.Errorf("acquisition.qc_memory_gb must be positive, got %d", c.Acquisition.QCMemoryGB)
	}

	return nil
}

// PhaseDirections expands the configured AP phase-encoding code into the
// AP and PA direction codes. "j-" yields ("j-", "j"); "j" yields ("j", "j-").
func PhaseDirections(apCode string) (ap, pa string, err error) {
	apCode = strings.TrimSpace(apCode)
	switch {
	case len(apCode) == 2 && apCode[1] == '-':
		return apCode, apCode[:1], nil
	case len(apCode) == 1:
		return apCode, apCode + "-", nil
	default:
		return "", "", fmt.Errorf("acquisition.ap_phase_encoding must be an axis code like \"j\" or \"j-\", got %q", apCode)
	}
}
