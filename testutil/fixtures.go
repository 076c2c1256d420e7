package testutil

import (
	"context"
	"errors"
	"time"

	"github.com/carebound/triage"
)

// Well-known fixture identifiers.
const (
	PatientJane  = "P001"
	PatientOther = "P002"
	JaneMRN      = "MRN-789456"
	JaneSession  = "session-jane"
	OtherSession = "session-other"
)

// NewFixtureStore builds the demo clinic store: Jane Doe (P001) owns
// APT-12345 with Dr. Smith in Cardiology; APT-67890 belongs to P002.
func NewFixtureStore() *triage.MemStore {
	store, err := triage.NewMemStore(
		[]triage.PatientRecord{
			{PatientID: PatientJane, MedicalRecordNumber: JaneMRN},
			{PatientID: PatientOther, MedicalRecordNumber: "MRN-123987"},
		},
		[]triage.Appointment{
			{
				ID:          "APT-12345",
				PatientID:   PatientJane,
				DoctorName:  "Dr. Smith",
				Department:  "Cardiology",
				ScheduledAt: time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC),
				Status:      "scheduled",
			},
			{
				ID:          "APT-67890",
				PatientID:   PatientOther,
				DoctorName:  "Dr. Johnson",
				Department:  "Dermatology",
				ScheduledAt: time.Date(2024, 12, 20, 14, 30, 0, 0, time.UTC),
				Status:      "confirmed",
			},
		},
		[]triage.DoctorSchedule{
			{Name: "Dr. Smith", Weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday}, DayStart: 9, DayEnd: 17},
			{Name: "Dr. Johnson", Weekdays: []time.Weekday{time.Tuesday, time.Thursday}, DayStart: 9, DayEnd: 17},
			{Name: "Dr. Williams", Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, DayStart: 9, DayEnd: 17},
		},
	)
	if err != nil {
		panic(err) // fixture data is static; a failure here is a test bug
	}
	return store
}

// MapResolver resolves sessions from a static map.
type MapResolver map[string]triage.PatientContext

// Resolve implements triage.IdentityResolver.
func (r MapResolver) Resolve(_ context.Context, sessionID string) (triage.PatientContext, error) {
	pc, ok := r[sessionID]
	if !ok {
		return triage.PatientContext{}, errors.New("unknown session")
	}
	return pc, nil
}

// NewFixtureResolver maps JaneSession to Jane Doe (with her appointment
// history) and OtherSession to patient P002.
func NewFixtureResolver(store *triage.MemStore) MapResolver {
	return MapResolver{
		JaneSession: {
			ID:                  PatientJane,
			Name:                "Jane Doe",
			Email:               "jane.doe@email.com",
			Phone:               "555-0123",
			MedicalRecordNumber: JaneMRN,
			InsuranceID:         "Blue Cross Blue Shield",
			Appointments:        store.AppointmentsForPatient(PatientJane),
		},
		OtherSession: {
			ID:                  PatientOther,
			Name:                "John Roe",
			MedicalRecordNumber: "MRN-123987",
			Appointments:        store.AppointmentsForPatient(PatientOther),
		},
	}
}

// NewTestController wires a full controller over the fixture store and the
// given scripted engine, with a generous dispatcher timeout for tests.
func NewTestController(engine triage.Engine, opts ...triage.ControllerOption) (*triage.Controller, error) {
	store := NewFixtureStore()
	dispatcher := triage.NewDispatcher(
		triage.WithDefaultTimeout(30*time.Second),
		triage.WithRecoverPanics(true),
	)
	if err := triage.RegisterClinicalTools(dispatcher, store, triage.NewGuard()); err != nil {
		return nil, err
	}
	binder := triage.NewBinder(NewFixtureResolver(store))
	return triage.NewController(engine, binder, dispatcher, opts...)
}
