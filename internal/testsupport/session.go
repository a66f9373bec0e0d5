package testsupport

import (
	"testing"

	"bidskit/internal/session"
)

// NewSession builds a session rooted in a fresh temp study directory with
// the standard layout already created.
func NewSession(t testing.TB) *session.Session {
	t.Helper()

	sess := session.New(t.TempDir(), "01", "MR1")
	if err := sess.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return sess
}
