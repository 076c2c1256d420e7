package triage

import "fmt"

// Guard authorizes reads against the bound patient identity. Every tool
// handler that resolves to a specific appointment must pass through it
// before returning appointment data.
type Guard struct{}

// NewGuard creates an access guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Authorize allows access iff the bound context's patient owns the target.
// The check runs regardless of whether the request's literal identifiers were
// well-formed; a denial wraps ErrAccessDenied and is terminal, never retried.
func (g *Guard) Authorize(pc PatientContext, targetPatientID string) error {
	if pc.ID != targetPatientID {
		return fmt.Errorf("%w: patient %s may not read records of patient %s", ErrAccessDenied, pc.ID, targetPatientID)
	}
	return nil
}
