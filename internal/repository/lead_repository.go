package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

// LeadRepositoryInterface defines methods used by services and the scheduler
type LeadRepositoryInterface interface {
	Create(ctx context.Context, l *model.Lead) error
	GetByID(ctx context.Context, id int) (*model.Lead, error)
	Update(ctx context.Context, l *model.Lead) error
	Delete(ctx context.Context, id int) error
	List(ctx context.Context, filter model.LeadFilter, offset, limit int) ([]*model.Lead, int, error)

	// ListDue returns unlocked leads of the campaign that are due at now,
	// oldest follow-up first.
	ListDue(ctx context.Context, campaignID int, now time.Time, limit int) ([]*model.Lead, error)
	AssignCampaign(ctx context.Context, leadID, campaignID int) error
	// FindByContact matches an inbound sender. Returns nil, nil when no lead matches.
	FindByContact(ctx context.Context, phone, email string) (*model.Lead, error)
}

// LeadRepository is the concrete implementation
type LeadRepository struct {
	DB *sql.DB
}

const leadColumns = `id, campaign_id, first_name, last_name, phone, email, property_address, timezone,
	property_type, status, qualification_data, follow_up_index, unparseable_streak,
	last_contact_at, next_follow_up_at, contact_count_today, contact_day,
	manual_review, review_reason, escalated, no_show_count, offered_slots,
	created_at, updated_at`

func (r *LeadRepository) Create(ctx context.Context, l *model.Lead) error {
	now := time.Now()
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Status == "" {
		l.Status = model.LeadNew
	}
	data, slots, err := encodeLeadJSON(l)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO leads
        (campaign_id, first_name, last_name, phone, email, property_address, timezone,
         property_type, status, qualification_data, offered_slots, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		l.CampaignID, l.FirstName, l.LastName, l.Phone, l.Email, l.PropertyAddress, l.Timezone,
		l.PropertyType, l.Status, data, slots, l.CreatedAt, l.UpdatedAt,
	).Scan(&l.ID)
}

// GetByID fetches a lead by ID
func (r *LeadRepository) GetByID(ctx context.Context, id int) (*model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	l, err := scanLead(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewLeadNotFound(id)
		}
		return nil, err
	}
	return l, nil
}

// Update writes back every mutable column. Callers hold the lead lock.
func (r *LeadRepository) Update(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now()
	data, slots, err := encodeLeadJSON(l)
	if err != nil {
		return err
	}
	query := `
        UPDATE leads
        SET first_name=$1, last_name=$2, phone=$3, email=$4, property_address=$5, timezone=$6,
            property_type=$7, status=$8, qualification_data=$9, follow_up_index=$10,
            unparseable_streak=$11, last_contact_at=$12, next_follow_up_at=$13,
            contact_count_today=$14, contact_day=$15, manual_review=$16, review_reason=$17,
            escalated=$18, no_show_count=$19, offered_slots=$20, updated_at=$21
        WHERE id=$22
    `
	res, err := r.DB.ExecContext(ctx, query,
		l.FirstName, l.LastName, l.Phone, l.Email, l.PropertyAddress, l.Timezone,
		l.PropertyType, l.Status, data, l.FollowUpIndex,
		l.UnparseableStreak, l.LastContactAt, l.NextFollowUpAt,
		l.ContactCountToday, l.ContactDay, l.ManualReview, l.ReviewReason,
		l.Escalated, l.NoShowCount, slots, l.UpdatedAt,
		l.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewLeadNotFound(l.ID))
}

func (r *LeadRepository) Delete(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM leads WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewLeadNotFound(id))
}

func (r *LeadRepository) List(ctx context.Context, filter model.LeadFilter, offset, limit int) ([]*model.Lead, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.CampaignID != nil {
		where += fmt.Sprintf(" AND campaign_id=$%d", argPos)
		args = append(args, *filter.CampaignID)
		argPos++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, filter.Status)
		argPos++
	}
	if filter.PropertyType != "" {
		where += fmt.Sprintf(" AND property_type=$%d", argPos)
		args = append(args, filter.PropertyType)
		argPos++
	}

	query := `SELECT ` + leadColumns + ` FROM leads` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	leads, err := r.queryLeads(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

func (r *LeadRepository) ListDue(ctx context.Context, campaignID int, now time.Time, limit int) ([]*model.Lead, error) {
	statuses := make([]string, 0, 4)
	for _, s := range model.FollowUpStatuses() {
		statuses = append(statuses, string(s))
	}
	query := `
        SELECT ` + leadColumns + `
        FROM leads l
        WHERE l.campaign_id = $1
          AND l.manual_review = FALSE
          AND l.escalated = FALSE
          AND (
                l.status = 'new'
             OR (l.status = ANY($2) AND l.next_follow_up_at IS NOT NULL AND l.next_follow_up_at <= $3)
          )
          AND NOT EXISTS (
                SELECT 1 FROM lead_locks k WHERE k.lead_id = l.id AND k.expires_at > $3
          )
        ORDER BY l.next_follow_up_at ASC NULLS FIRST, l.id ASC
        LIMIT $4
    `
	return r.queryLeads(ctx, query, campaignID, pq.Array(statuses), now, limit)
}

func (r *LeadRepository) AssignCampaign(ctx context.Context, leadID, campaignID int) error {
	query := `
        UPDATE leads SET campaign_id=$1, updated_at=NOW()
        WHERE id=$2 AND (campaign_id IS NULL OR campaign_id=$1)
    `
	res, err := r.DB.ExecContext(ctx, query, campaignID, leadID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var current sql.NullInt64
	err = r.DB.QueryRowContext(ctx, `SELECT campaign_id FROM leads WHERE id=$1`, leadID).Scan(&current)
	if err == sql.ErrNoRows {
		return appErrors.NewLeadNotFound(leadID)
	}
	if err != nil {
		return err
	}
	return &appErrors.ErrCampaignConflict{LeadID: leadID, CampaignID: int(current.Int64)}
}

func (r *LeadRepository) FindByContact(ctx context.Context, phone, email string) (*model.Lead, error) {
	query := `
        SELECT ` + leadColumns + `
        FROM leads
        WHERE ($1 <> '' AND phone = $1) OR ($2 <> '' AND LOWER(email) = LOWER($2))
        ORDER BY id ASC
        LIMIT 1
    `
	l, err := scanLead(r.DB.QueryRowContext(ctx, query, phone, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

func (r *LeadRepository) queryLeads(ctx context.Context, query string, args ...interface{}) ([]*model.Lead, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []*model.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var data, slots []byte
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.FirstName, &l.LastName, &l.Phone, &l.Email, &l.PropertyAddress, &l.Timezone,
		&l.PropertyType, &l.Status, &data, &l.FollowUpIndex, &l.UnparseableStreak,
		&l.LastContactAt, &l.NextFollowUpAt, &l.ContactCountToday, &l.ContactDay,
		&l.ManualReview, &l.ReviewReason, &l.Escalated, &l.NoShowCount, &slots,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.QualificationData = map[string]string{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &l.QualificationData); err != nil {
			return nil, fmt.Errorf("decode lead %d qualification data: %w", l.ID, err)
		}
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &l.OfferedSlots); err != nil {
			return nil, fmt.Errorf("decode lead %d offered slots: %w", l.ID, err)
		}
	}
	return &l, nil
}

func encodeLeadJSON(l *model.Lead) ([]byte, []byte, error) {
	qd := l.QualificationData
	if qd == nil {
		qd = map[string]string{}
	}
	data, err := json.Marshal(qd)
	if err != nil {
		return nil, nil, err
	}
	offered := l.OfferedSlots
	if offered == nil {
		offered = []time.Time{}
	}
	slots, err := json.Marshal(offered)
	if err != nil {
		return nil, nil, err
	}
	return data, slots, nil
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
