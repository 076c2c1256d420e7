package triage

import (
	"sort"
	"time"
)

// AppointmentStore is the read-only appointment source. Only the Dispatcher's
// tool handlers query it; no other component touches appointment data
// directly. Implementations must be safe for unsynchronized concurrent reads.
type AppointmentStore interface {
	// Appointment looks up a record by canonical id, exact match.
	Appointment(id string) (Appointment, bool)
	// PatientIDByMRN maps a medical record number to the owning patient id.
	PatientIDByMRN(mrn string) (string, bool)
	// AppointmentsForPatient returns the patient's records ordered by
	// scheduled time.
	AppointmentsForPatient(patientID string) []Appointment
	// Availability returns the doctor's open slots within [from, to],
	// ordered by start time. Unknown doctors yield an empty list.
	Availability(doctorName string, from, to time.Time) []Slot
}

// DoctorSchedule describes a doctor's recurring weekly availability.
type DoctorSchedule struct {
	Name     string
	Weekdays []time.Weekday
	DayStart int // opening hour, 24h clock
	DayEnd   int // closing hour, 24h clock
}

// MemStore is an in-memory AppointmentStore seeded once before any session
// begins. All maps are built in NewMemStore and never written again, which
// makes the store safe for concurrent reads without locking.
type MemStore struct {
	byID      map[string]Appointment
	byMRN     map[string]string
	byPatient map[string][]Appointment
	schedules map[string]DoctorSchedule
}

// PatientRecord binds an MRN to a patient id for store seeding.
type PatientRecord struct {
	PatientID           string
	MedicalRecordNumber string
}

// NewMemStore builds the store from seed data. Appointments with non-canonical
// ids are rejected up front; a store must never contain an unreachable record.
func NewMemStore(patients []PatientRecord, appointments []Appointment, schedules []DoctorSchedule) (*MemStore, error) {
	s := &MemStore{
		byID:      make(map[string]Appointment, len(appointments)),
		byMRN:     make(map[string]string, len(patients)),
		byPatient: make(map[string][]Appointment),
		schedules: make(map[string]DoctorSchedule, len(schedules)),
	}
	for _, a := range appointments {
		if !IsCanonicalAppointmentID(a.ID) {
			return nil, &FormatError{Field: "id", Value: a.ID, Reason: "seed appointment id is not canonical"}
		}
		s.byID[a.ID] = a
		s.byPatient[a.PatientID] = append(s.byPatient[a.PatientID], a)
	}
	for _, list := range s.byPatient {
		sort.Slice(list, func(i, j int) bool { return list[i].ScheduledAt.Before(list[j].ScheduledAt) })
	}
	for _, p := range patients {
		s.byMRN[p.MedicalRecordNumber] = p.PatientID
	}
	for _, d := range schedules {
		s.schedules[d.Name] = d
	}
	return s, nil
}

// Appointment implements AppointmentStore.
func (s *MemStore) Appointment(id string) (Appointment, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// PatientIDByMRN implements AppointmentStore.
func (s *MemStore) PatientIDByMRN(mrn string) (string, bool) {
	id, ok := s.byMRN[mrn]
	return id, ok
}

// AppointmentsForPatient implements AppointmentStore. The returned slice is a
// copy; callers may not reach the store's internal state through it.
func (s *MemStore) AppointmentsForPatient(patientID string) []Appointment {
	return append([]Appointment(nil), s.byPatient[patientID]...)
}

// Availability implements AppointmentStore. One slot per working day the
// doctor is scheduled within the range, spanning the day's working hours.
func (s *MemStore) Availability(doctorName string, from, to time.Time) []Slot {
	sched, ok := s.schedules[doctorName]
	if !ok || to.Before(from) {
		return nil
	}
	working := make(map[time.Weekday]bool, len(sched.Weekdays))
	for _, wd := range sched.Weekdays {
		working[wd] = true
	}
	var slots []Slot
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, to.Location())
	for !day.After(end) {
		if working[day.Weekday()] {
			slots = append(slots, Slot{
				DoctorName: sched.Name,
				Start:      day.Add(time.Duration(sched.DayStart) * time.Hour),
				End:        day.Add(time.Duration(sched.DayEnd) * time.Hour),
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return slots
}

var _ AppointmentStore = (*MemStore)(nil)
