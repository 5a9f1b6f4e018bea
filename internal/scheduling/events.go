package scheduling

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventSlotsGenerated         = "SLOTS_GENERATED"
	EventSlotsRetracted         = "SLOTS_RETRACTED"
)

// recordEvent writes an event row with the ctx's transaction, so a failed write aborts the transition.
func recordEvent(ctx context.Context, events EventRepository, eventType string, appointmentID, doctorID *uuid.UUID, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		Payload:       data,
	}
	return events.InsertEvent(ctx, ev)
}

func ptr[T any](v T) *T { return &v }
