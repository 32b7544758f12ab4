package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	ListCampaigns(ctx context.Context, offset, limit int, propertyType, status string) ([]*model.Campaign, int, error)
	ListActive(ctx context.Context) ([]*model.Campaign, error)
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID int, status model.CampaignStatus) error
	Update(ctx context.Context, c *model.Campaign) error
	Create(ctx context.Context, c *model.Campaign) error

	// Live counters
	IncrementStat(ctx context.Context, campaignID int, stat string, delta int) error
	ReserveDailyContact(ctx context.Context, campaignID int, day string, max int) (bool, error)
	ReleaseDailyContact(ctx context.Context, campaignID int, day string) error
	DailyContacts(ctx context.Context, campaignID int, day string) (int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// statColumns whitelists the aggregate counter columns.
var statColumns = map[string]string{
	model.StatContacted:    "stat_contacted",
	model.StatResponded:    "stat_responded",
	model.StatQualified:    "stat_qualified",
	model.StatAppointments: "stat_appointments",
	model.StatOptedOut:     "stat_opted_out",
	model.StatFailed:       "stat_failed",
}

const campaignColumns = `id, name, property_type, status, config,
	stat_contacted, stat_responded, stat_qualified, stat_appointments, stat_opted_out, stat_failed,
	created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignCreated
	}
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO campaigns (name, property_type, status, config, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.PropertyType, c.Status, cfg, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	query := `
        UPDATE campaigns
        SET name=$1, config=$2, updated_at=NOW()
        WHERE id=$3
    `
	res, err := r.DB.ExecContext(ctx, query, c.Name, cfg, c.ID)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewCampaignNotFound(c.ID))
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID int, status model.CampaignStatus) error {
	query := `UPDATE campaigns SET status=$1, updated_at=$2 WHERE id=$3`
	res, err := r.DB.ExecContext(ctx, query, status, time.Now(), campaignID)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewCampaignNotFound(campaignID))
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, propertyType, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if propertyType != "" {
		where += fmt.Sprintf(" AND property_type=$%d", argPos)
		args = append(args, propertyType)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)

	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status=$1 ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, model.CampaignActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ====================== Counters ======================

func (r *CampaignRepository) IncrementStat(ctx context.Context, campaignID int, stat string, delta int) error {
	column, ok := statColumns[stat]
	if !ok {
		return fmt.Errorf("unknown campaign stat %q", stat)
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s = %s + $1 WHERE id=$2`, column, column)
	_, err := r.DB.ExecContext(ctx, query, delta, campaignID)
	return err
}

// ReserveDailyContact atomically takes one slot of the campaign's daily cap.
func (r *CampaignRepository) ReserveDailyContact(ctx context.Context, campaignID int, day string, max int) (bool, error) {
	query := `
        INSERT INTO campaign_daily_contacts (campaign_id, day, contacts)
        VALUES ($1, $2, 1)
        ON CONFLICT (campaign_id, day) DO UPDATE
        SET contacts = campaign_daily_contacts.contacts + 1
        WHERE campaign_daily_contacts.contacts < $3
        RETURNING contacts
    `
	var contacts int
	err := r.DB.QueryRowContext(ctx, query, campaignID, day, max).Scan(&contacts)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return contacts <= max, nil
}

func (r *CampaignRepository) ReleaseDailyContact(ctx context.Context, campaignID int, day string) error {
	query := `
        UPDATE campaign_daily_contacts SET contacts = contacts - 1
        WHERE campaign_id=$1 AND day=$2 AND contacts > 0
    `
	_, err := r.DB.ExecContext(ctx, query, campaignID, day)
	return err
}

func (r *CampaignRepository) DailyContacts(ctx context.Context, campaignID int, day string) (int, error) {
	var contacts int
	err := r.DB.QueryRowContext(ctx,
		`SELECT contacts FROM campaign_daily_contacts WHERE campaign_id=$1 AND day=$2`,
		campaignID, day,
	).Scan(&contacts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return contacts, err
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var cfg []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.PropertyType, &c.Status, &cfg,
		&c.Stats.Contacted, &c.Stats.Responded, &c.Stats.Qualified,
		&c.Stats.Appointments, &c.Stats.OptedOut, &c.Stats.Failed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.Config); err != nil {
			return nil, fmt.Errorf("decode campaign %d config: %w", c.ID, err)
		}
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
