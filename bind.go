package triage

import (
	"context"
	"fmt"
)

// IdentityResolver resolves a session identifier to a known patient. It is
// the external authentication collaborator; this package never establishes
// sessions itself.
type IdentityResolver interface {
	Resolve(ctx context.Context, sessionID string) (PatientContext, error)
}

// Binder attaches immutable patient identity to a turn. It keeps no state
// across sessions; every Bind call produces a fresh value.
type Binder struct {
	resolver IdentityResolver
}

// NewBinder creates a Binder over the given resolver.
func NewBinder(resolver IdentityResolver) *Binder {
	return &Binder{resolver: resolver}
}

// Bind resolves sessionID and returns the patient context for the turn.
// Resolution failures and contexts without a patient ID wrap ErrIdentity.
// The appointment history is copied so the resolver cannot alias it.
func (b *Binder) Bind(ctx context.Context, sessionID string) (PatientContext, error) {
	pc, err := b.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return PatientContext{}, fmt.Errorf("%w: session %s: %v", ErrIdentity, sessionID, err)
	}
	if pc.ID == "" {
		return PatientContext{}, fmt.Errorf("%w: session %s resolved to empty patient id", ErrIdentity, sessionID)
	}
	if len(pc.Appointments) > 0 {
		pc.Appointments = append([]Appointment(nil), pc.Appointments...)
	}
	return pc, nil
}
