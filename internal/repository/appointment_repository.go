package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

type AppointmentRepositoryInterface interface {
	Create(ctx context.Context, a *model.Appointment) error
	GetByID(ctx context.Context, id int) (*model.Appointment, error)
	UpdateStatus(ctx context.Context, id int, status model.AppointmentStatus) error
	// ListOverdue returns scheduled appointments that ended at or before cutoff.
	ListOverdue(ctx context.Context, cutoff time.Time) ([]*model.Appointment, error)
}

type AppointmentRepository struct {
	DB *sql.DB
}

const appointmentColumns = `id, lead_id, event_id, video_link, starts_at, ends_at, status, created_at, updated_at`

func (r *AppointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.AppointmentScheduled
	}
	query := `
        INSERT INTO appointments (lead_id, event_id, video_link, starts_at, ends_at, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		a.LeadID, a.EventID, a.VideoLink, a.StartsAt, a.EndsAt, a.Status, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id int) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id=$1`
	a, err := scanAppointment(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewAppointmentNotFound(id)
		}
		return nil, err
	}
	return a, nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, id int, status model.AppointmentStatus) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE appointments SET status=$1, updated_at=$2 WHERE id=$3`,
		status, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewAppointmentNotFound(id))
}

func (r *AppointmentRepository) ListOverdue(ctx context.Context, cutoff time.Time) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
        FROM appointments
        WHERE status=$1 AND ends_at <= $2
        ORDER BY ends_at ASC`
	rows, err := r.DB.QueryContext(ctx, query, model.AppointmentScheduled, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row rowScanner) (*model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.LeadID, &a.EventID, &a.VideoLink, &a.StartsAt, &a.EndsAt, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

var _ AppointmentRepositoryInterface = (*AppointmentRepository)(nil)
