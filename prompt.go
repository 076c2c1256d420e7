package triage

import (
	"fmt"
	"strings"
)

// defaultSystemPrompt instructs the engine on tone, tool use, and the shape
// of its final structured answer.
const defaultSystemPrompt = `You are an intelligent healthcare appointment assistant.
Analyze patient inquiries carefully and use the available tools to look up
appointment and doctor information accurately. Always verify appointment IDs
and patient information. Maintain strict patient confidentiality, greet the
patient professionally, and provide helpful guidance.

When you have everything you need, answer with a single JSON object:
{"text": string, "urgency_level": "routine"|"urgent"|"emergency",
"appointment_needed": boolean, "follow_up_required": boolean,
"department_referral": string or null}`

// buildSystemPrompt appends the bound patient context to the base prompt,
// mirroring how the dispatcher's tools see the same identity.
func buildSystemPrompt(base string, pc PatientContext) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nPatient information:\n")
	writeField(&b, "patient_id", pc.ID)
	writeField(&b, "name", pc.Name)
	writeField(&b, "email", pc.Email)
	writeField(&b, "phone", pc.Phone)
	writeField(&b, "medical_record_number", pc.MedicalRecordNumber)
	writeField(&b, "insurance_id", pc.InsuranceID)
	for _, a := range pc.Appointments {
		fmt.Fprintf(&b, "- appointment %s: %s with %s in %s (%s)\n",
			a.ID, a.ScheduledAt.Format("2006-01-02 15:04"), a.DoctorName, a.Department, a.Status)
	}
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", key, value)
}

// prompt renders the correction request as the message sent back to the
// engine. The end caller never sees this text.
func (r CorrectionRequest) prompt() string {
	var b strings.Builder
	b.WriteString("Your previous response was invalid: ")
	b.WriteString(r.Reason)
	b.WriteString(".")
	if r.Hint != "" {
		b.WriteString(" ")
		b.WriteString(r.Hint)
	}
	b.WriteString(" Respond again with a corrected JSON object only.")
	return b.String()
}
