package preflight

import (
	"fmt"
	"os/exec"
	"strings"

	"bidskit/internal/config"
)

// Requirement defines an external tool bidskit relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// Requirements derives the external tool list from the configured binary
// names.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "dcm2niix", Command: cfg.Binaries.Dcm2niix, Description: "DICOM import and conversion"},
		{Name: "heudiconv", Command: cfg.Binaries.Heudiconv, Description: "heuristic-driven BIDS conversion"},
		{Name: "unzip", Command: cfg.Binaries.Unzip, Description: "DICOM archive extraction"},
		{Name: "fslswapdim", Command: cfg.Binaries.FSLSwapDim, Description: "image reorientation", Optional: true},
		{Name: "slicetimer", Command: cfg.Binaries.SliceTimer, Description: "slice-timing correction", Optional: true},
		{Name: "docker", Command: cfg.Binaries.Docker, Description: "validator and QC containers", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports
// availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		command := strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		status.Command = command
		if command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", command)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
