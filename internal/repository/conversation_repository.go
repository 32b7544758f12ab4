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

type ConversationRepositoryInterface interface {
	GetOrCreateForLead(ctx context.Context, leadID int) (*model.Conversation, error)
	GetByID(ctx context.Context, id int) (*model.Conversation, error)
	GetByLeadID(ctx context.Context, leadID int) (*model.Conversation, error)
	UpdateState(ctx context.Context, id int, status model.LeadStatus, stageIndex int) error

	// AppendMessage stores msg. Inbound messages with a provider id that was
	// already stored are ignored and reported as false.
	AppendMessage(ctx context.Context, msg *model.Message) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.DeliveryStatus, lastError string) (bool, error)
}

type ConversationRepository struct {
	DB *sql.DB
}

const conversationColumns = `id, lead_id, status, stage_index, created_at, updated_at`

func (r *ConversationRepository) GetOrCreateForLead(ctx context.Context, leadID int) (*model.Conversation, error) {
	now := time.Now()
	query := `
        INSERT INTO conversations (lead_id, status, stage_index, created_at, updated_at)
        VALUES ($1, $2, 0, $3, $3)
        ON CONFLICT (lead_id) DO NOTHING
    `
	if _, err := r.DB.ExecContext(ctx, query, leadID, model.LeadNew, now); err != nil {
		return nil, err
	}
	return r.GetByLeadID(ctx, leadID)
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id=$1`
	return r.load(ctx, query, id, appErrors.NewConversationNotFound(id))
}

func (r *ConversationRepository) GetByLeadID(ctx context.Context, leadID int) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE lead_id=$1`
	return r.load(ctx, query, leadID, appErrors.NewLeadNotFound(leadID))
}

func (r *ConversationRepository) load(ctx context.Context, query string, arg int, notFound error) (*model.Conversation, error) {
	var c model.Conversation
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&c.ID, &c.LeadID, &c.Status, &c.StageIndex, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notFound
		}
		return nil, err
	}
	msgs, err := r.listMessages(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return &c, nil
}

func (r *ConversationRepository) UpdateState(ctx context.Context, id int, status model.LeadStatus, stageIndex int) error {
	query := `UPDATE conversations SET status=$1, stage_index=$2, updated_at=$3 WHERE id=$4`
	res, err := r.DB.ExecContext(ctx, query, status, stageIndex, time.Now(), id)
	if err != nil {
		return err
	}
	return requireRow(res, appErrors.NewConversationNotFound(id))
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *model.Message) (bool, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	attempts, err := json.Marshal(msg.Attempts)
	if err != nil {
		return false, err
	}

	query := `
        INSERT INTO messages
        (conversation_id, direction, channel, content, ai_generated, delivery_status,
         provider_message_id, last_error, attempts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (provider_message_id) WHERE direction = 'inbound' AND provider_message_id <> ''
        DO NOTHING
        RETURNING id
    `
	err = r.DB.QueryRowContext(ctx, query,
		msg.ConversationID, msg.Direction, msg.Channel, msg.Content, msg.AIGenerated, msg.DeliveryStatus,
		msg.ProviderMessageID, msg.LastError, attempts, msg.CreatedAt,
	).Scan(&msg.ID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = r.DB.ExecContext(ctx, `UPDATE conversations SET updated_at=$1 WHERE id=$2`, msg.CreatedAt, msg.ConversationID)
	return true, err
}

func (r *ConversationRepository) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.DeliveryStatus, lastError string) (bool, error) {
	query := `
        UPDATE messages SET delivery_status=$1, last_error=$2
        WHERE provider_message_id=$3 AND direction='outbound'
    `
	res, err := r.DB.ExecContext(ctx, query, status, lastError, providerMessageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ConversationRepository) listMessages(ctx context.Context, conversationID int) ([]model.Message, error) {
	query := `
        SELECT id, conversation_id, direction, channel, content, ai_generated, delivery_status,
               provider_message_id, last_error, attempts, created_at
        FROM messages
        WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		var attempts []byte
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.Direction, &m.Channel, &m.Content, &m.AIGenerated, &m.DeliveryStatus,
			&m.ProviderMessageID, &m.LastError, &attempts, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(attempts) > 0 {
			if err := json.Unmarshal(attempts, &m.Attempts); err != nil {
				return nil, fmt.Errorf("decode message %d attempts: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

var _ ConversationRepositoryInterface = (*ConversationRepository)(nil)
