package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MP2RAGEParams carries the two-channel acquisition parameters injected into
// the sidecars of derived anatomical files. The array-valued fields hold one
// value per inversion.
type MP2RAGEParams struct {
	RepetitionTimeExcitation  float64
	RepetitionTimePreparation float64
	InversionTime             [2]float64
	NumberShots               float64
	FlipAngle                 [2]float64
}

// MP2RAGEPath returns the expected parameter file location for a study.
func MP2RAGEPath(studyDir string) string {
	return filepath.Join(studyDir, "code", "mp2rage.json")
}

// LoadMP2RAGE reads and validates the MP2RAGE parameter file. Missing keys
// and malformed array fields are reported together so the user can fix the
// file in one pass.
func LoadMP2RAGE(path string) (*MP2RAGEParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	required := []string{
		"RepetitionTimeExcitation",
		"RepetitionTimePreparation",
		"InversionTime",
		"NumberShots",
		"FlipAngle",
	}
	var missing []string
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s missing required fields: %s", path, strings.Join(missing, ", "))
	}

	var params MP2RAGEParams
	if err := json.Unmarshal(raw["RepetitionTimeExcitation"], &params.RepetitionTimeExcitation); err != nil {
		return nil, fmt.Errorf("%s: RepetitionTimeExcitation must be a number", path)
	}
	if err := json.Unmarshal(raw["RepetitionTimePreparation"], &params.RepetitionTimePreparation); err != nil {
		return nil, fmt.Errorf("%s: RepetitionTimePreparation must be a number", path)
	}
	if err := json.Unmarshal(raw["NumberShots"], &params.NumberShots); err != nil {
		return nil, fmt.Errorf("%s: NumberShots must be a number", path)
	}

	for _, field := range []struct {
		key  string
		dest *[2]float64
	}{
		{"InversionTime", &params.InversionTime},
		{"FlipAngle", &params.FlipAngle},
	} {
		var values []float64
		if err := json.Unmarshal(raw[field.key], &values); err != nil || len(values) != 2 {
			return nil, fmt.Errorf("%s: %s must be a list with 2 elements [inv1, inv2]", path, field.key)
		}
		copy(field.dest[:], values)
	}

	return &params, nil
}
