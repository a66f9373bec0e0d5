package steps

// Skip reasons shared across steps.
const (
	ReasonOutputsExist = "outputs already exist"
	ReasonNoInputs     = "no matching inputs"
	ReasonUpToDate     = "already up to date"
)

// Result reports what a step actually did. Steps that find nothing to do
// return Applied=false with a Reason instead of an error, so run-all can
// distinguish deliberate skips from failures.
type Result struct {
	Applied bool
	Reason  string
}

// Applied is the result of a step that changed the dataset.
func Applied() Result {
	return Result{Applied: true}
}

// Skipped is the result of a step that intentionally did nothing.
func Skipped(reason string) Result {
	return Result{Reason: reason}
}
