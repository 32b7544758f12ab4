// internal/model/appointment.go
package model

import "time"

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentNoShow    AppointmentStatus = "no_show"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

type Appointment struct {
	ID        int               `db:"id" json:"id"`
	LeadID    int               `db:"lead_id" json:"lead_id"`
	EventID   string            `db:"event_id" json:"event_id"`
	VideoLink string            `db:"video_link" json:"video_link"`
	StartsAt  time.Time         `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time         `db:"ends_at" json:"ends_at"`
	Status    AppointmentStatus `db:"status" json:"status"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}
