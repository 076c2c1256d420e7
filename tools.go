package triage

import (
	"context"
	"fmt"
	"time"
)

// Tool names registered by RegisterClinicalTools.
const (
	ToolAppointmentDetails  = "get_appointment_details"
	ToolDoctorAvailability  = "check_doctor_availability"
	ToolAppointmentStatus   = "get_appointment_status"
	ToolValidateAppointment = "validate_patient_appointment"
)

const dateLayout = "2006-01-02"

type appointmentDetailsArgs struct {
	MRN string `json:"mrn" description:"Patient medical record number, e.g. MRN-789456"`
}

type availabilityArgs struct {
	DoctorName string `json:"doctor_name" description:"Doctor display name, e.g. Dr. Smith"`
	From       string `json:"from" description:"Start of the date range, YYYY-MM-DD"`
	To         string `json:"to" description:"End of the date range, YYYY-MM-DD"`
}

type availabilityResult struct {
	DoctorName string `json:"doctor_name"`
	Slots      []Slot `json:"slots"`
}

type statusArgs struct {
	AppointmentID string `json:"appointment_id" description:"Appointment identifier, canonical form APT-XXXXX"`
}

type validateArgs struct {
	PatientID     string `json:"patient_id" description:"Patient identifier, e.g. P001"`
	AppointmentID string `json:"appointment_id" description:"Appointment identifier, canonical form APT-XXXXX"`
}

type validateResult struct {
	Valid bool `json:"valid"`
}

// clinicalTools hosts the deterministic lookup handlers. All appointment
// reads go through the guard before any data leaves a handler.
type clinicalTools struct {
	store AppointmentStore
	guard *Guard
}

// RegisterClinicalTools builds the four clinical lookup tools over the store
// and guard and registers them on the dispatcher. Adding a tool means adding
// one entry here plus its typed handler; nothing else changes.
func RegisterClinicalTools(d *Dispatcher, store AppointmentStore, guard *Guard) error {
	ct := &clinicalTools{store: store, guard: guard}

	details, err := NewTool(
		ToolAppointmentDetails,
		"Look up the patient's next appointment by medical record number.",
		ct.appointmentDetails,
		WithStrict(),
	)
	if err != nil {
		return err
	}
	availability, err := NewTool(
		ToolDoctorAvailability,
		"List a doctor's available time slots within a date range.",
		ct.doctorAvailability,
		WithStrict(),
	)
	if err != nil {
		return err
	}
	status, err := NewTool(
		ToolAppointmentStatus,
		"Get the status of an appointment by its identifier.",
		ct.appointmentStatus,
		WithStrict(),
	)
	if err != nil {
		return err
	}
	validate, err := NewTool(
		ToolValidateAppointment,
		"Check whether an appointment belongs to the given patient.",
		ct.validateAppointment,
		WithStrict(),
	)
	if err != nil {
		return err
	}

	d.Register(details)
	d.Register(availability)
	d.Register(status)
	d.Register(validate)
	return nil
}

func (ct *clinicalTools) appointmentDetails(_ context.Context, pc PatientContext, args appointmentDetailsArgs) (Appointment, error) {
	ownerID, ok := ct.store.PatientIDByMRN(args.MRN)
	if !ok {
		return Appointment{}, fmt.Errorf("%w: no patient with MRN %s", ErrNotFound, args.MRN)
	}
	if err := ct.guard.Authorize(pc, ownerID); err != nil {
		return Appointment{}, err
	}
	appts := ct.store.AppointmentsForPatient(ownerID)
	if len(appts) == 0 {
		return Appointment{}, fmt.Errorf("%w: patient %s has no appointments", ErrNotFound, ownerID)
	}
	return appts[0], nil
}

func (ct *clinicalTools) doctorAvailability(_ context.Context, _ PatientContext, args availabilityArgs) (availabilityResult, error) {
	from, err := time.Parse(dateLayout, args.From)
	if err != nil {
		return availabilityResult{}, &FormatError{Field: "from", Value: args.From, Reason: "expected date in YYYY-MM-DD form"}
	}
	to, err := time.Parse(dateLayout, args.To)
	if err != nil {
		return availabilityResult{}, &FormatError{Field: "to", Value: args.To, Reason: "expected date in YYYY-MM-DD form"}
	}
	slots := ct.store.Availability(args.DoctorName, from, to)
	return availabilityResult{DoctorName: args.DoctorName, Slots: slots}, nil
}

// appointmentStatus normalizes the supplied identifier before lookup; the
// lookup itself is exact-match on the canonical id. A missing record is
// NotFound, not a format problem, and is never retried.
func (ct *clinicalTools) appointmentStatus(_ context.Context, pc PatientContext, args statusArgs) (Appointment, error) {
	id := args.AppointmentID
	if !IsCanonicalAppointmentID(id) {
		canonical, err := CanonicalAppointmentID(id)
		if err != nil {
			return Appointment{}, err
		}
		id = canonical
	}
	appt, ok := ct.store.Appointment(id)
	if !ok {
		return Appointment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := ct.guard.Authorize(pc, appt.PatientID); err != nil {
		return Appointment{}, err
	}
	return appt, nil
}

// validateAppointment answers only for the bound patient; asking about
// another patient's scope is denied before any lookup happens. Unlike
// get_appointment_status it does not normalize: a non-canonical id is a
// FormatError, which the Controller repairs and retries.
func (ct *clinicalTools) validateAppointment(_ context.Context, pc PatientContext, args validateArgs) (validateResult, error) {
	if err := ct.guard.Authorize(pc, args.PatientID); err != nil {
		return validateResult{}, err
	}
	if !IsCanonicalAppointmentID(args.AppointmentID) {
		return validateResult{}, &FormatError{
			Field:  "appointment_id",
			Value:  args.AppointmentID,
			Reason: "expected canonical form APT-XXXXX",
		}
	}
	appt, ok := ct.store.Appointment(args.AppointmentID)
	if !ok {
		return validateResult{}, fmt.Errorf("%w: %s", ErrNotFound, args.AppointmentID)
	}
	return validateResult{Valid: appt.PatientID == args.PatientID}, nil
}
