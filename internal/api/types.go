package api

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/doctor-slot-scheduling/internal/scheduling"
)

type SpecialtyRequest struct {
	Name string `json:"name"`
}

type SpecialtyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AvailabilityDTO struct {
	DayOfWeek string `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type DoctorRequest struct {
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	SpecialtyID      string            `json:"specialty_id"`
	EmploymentStatus string            `json:"employment_status,omitempty"`
	Availability     []AvailabilityDTO `json:"availability"`
}

// UpdateDoctorRequest leaves absent fields unchanged. A present availability
// list, even an empty one, replaces the doctor's templates.
type UpdateDoctorRequest struct {
	FirstName        *string            `json:"first_name,omitempty"`
	LastName         *string            `json:"last_name,omitempty"`
	SpecialtyID      *string            `json:"specialty_id,omitempty"`
	EmploymentStatus *string            `json:"employment_status,omitempty"`
	Availability     *[]AvailabilityDTO `json:"availability,omitempty"`
}

type DoctorResponse struct {
	ID               uuid.UUID         `json:"id"`
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	SpecialtyID      uuid.UUID         `json:"specialty_id"`
	EmploymentStatus string            `json:"employment_status"`
	Availability     []AvailabilityDTO `json:"availability,omitempty"`
}

type PatientRequest struct {
	IdentityID *string `json:"identity_id,omitempty"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	DOB        string  `json:"dob"`
}

type PatientResponse struct {
	ID         uuid.UUID `json:"id"`
	IdentityID *string   `json:"identity_id,omitempty"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	DOB        string    `json:"dob"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Status    string    `json:"status"`
}

type CreateAppointmentRequest struct {
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id,omitempty"`
	VisitType string `json:"visit_type"`
}

type RescheduleAppointmentRequest struct {
	NewSlotID string `json:"new_slot_id"`
	PatientID string `json:"patient_id,omitempty"`
	VisitType string `json:"visit_type,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	PatientID uuid.UUID  `json:"patient_id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	SlotID    *uuid.UUID `json:"slot_id"`
	Date      string     `json:"date"`
	VisitType string     `json:"visit_type"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AppointmentDetailResponse is the enriched view. Slot fields are null once the
// appointment is cancelled.
type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientFirstName string     `json:"patient_first_name,omitempty"`
	PatientLastName  string     `json:"patient_last_name,omitempty"`
	DoctorName       string     `json:"doctor_name,omitempty"`
	SpecialtyID      *uuid.UUID `json:"specialty_id,omitempty"`
	StartTime        *string    `json:"start_time"`
	EndTime          *string    `json:"end_time"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSpecialtyResponse(s scheduling.Specialty) SpecialtyResponse {
	return SpecialtyResponse{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}

func toAvailabilityDTOs(templates []scheduling.AvailabilityTemplate) []AvailabilityDTO {
	out := make([]AvailabilityDTO, 0, len(templates))
	for _, t := range templates {
		out = append(out, AvailabilityDTO{
			DayOfWeek: string(t.DayOfWeek),
			StartTime: t.StartTime.String(),
			EndTime:   t.EndTime.String(),
		})
	}
	return out
}

func toDoctorResponse(d scheduling.Doctor) DoctorResponse {
	resp := DoctorResponse{
		ID:               d.ID,
		FirstName:        d.FirstName,
		LastName:         d.LastName,
		SpecialtyID:      d.SpecialtyID,
		EmploymentStatus: string(d.EmploymentStatus),
	}
	if d.Availability != nil {
		resp.Availability = toAvailabilityDTOs(d.Availability)
	}
	return resp
}

func toPatientResponse(p scheduling.Patient) PatientResponse {
	return PatientResponse{
		ID:         p.ID,
		IdentityID: p.IdentityID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		DOB:        p.DOB.Format(time.DateOnly),
	}
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      s.Date.Format(time.DateOnly),
		StartTime: s.StartTime.String(),
		EndTime:   s.EndTime.String(),
		Status:    string(s.Status),
	}
}

func toAppointmentResponse(a scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		SlotID:    a.SlotID,
		Date:      a.Date.Format(time.DateOnly),
		VisitType: string(a.VisitType),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toDetailResponse(d scheduling.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(d.Appointment)}
	if d.Patient != nil {
		resp.PatientFirstName = d.Patient.FirstName
		resp.PatientLastName = d.Patient.LastName
	}
	if d.Doctor != nil {
		resp.DoctorName = d.Doctor.FullName()
		specialtyID := d.Doctor.SpecialtyID
		resp.SpecialtyID = &specialtyID
	}
	if d.Slot != nil {
		start, end := d.Slot.StartTime.String(), d.Slot.EndTime.String()
		resp.StartTime = &start
		resp.EndTime = &end
	}
	return resp
}

func toDetailResponses(details []scheduling.AppointmentDetail) []AppointmentDetailResponse {
	out := make([]AppointmentDetailResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toDetailResponse(d))
	}
	return out
}

func parseAvailability(dtos []AvailabilityDTO) ([]scheduling.AvailabilityTemplate, error) {
	templates := make([]scheduling.AvailabilityTemplate, 0, len(dtos))
	for _, dto := range dtos {
		start, err := scheduling.ParseTimeOfDay(dto.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := scheduling.ParseTimeOfDay(dto.EndTime)
		if err != nil {
			return nil, err
		}
		templates = append(templates, scheduling.AvailabilityTemplate{
			DayOfWeek: scheduling.DayOfWeek(strings.ToUpper(dto.DayOfWeek)),
			StartTime: start,
			EndTime:   end,
		})
	}
	return templates, nil
}
