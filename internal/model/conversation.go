// internal/model/conversation.go
package model

import "time"

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryReceived  DeliveryStatus = "received"
)

type Conversation struct {
	ID         int        `db:"id" json:"id"`
	LeadID     int        `db:"lead_id" json:"lead_id"`
	Status     LeadStatus `db:"status" json:"status"`
	StageIndex int        `db:"stage_index" json:"stage_index"`
	Messages   []Message  `db:"-" json:"messages,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// DeliveryAttempt is one transport call inside a send cycle.
type DeliveryAttempt struct {
	Channel   Channel   `json:"channel"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Retriable bool      `json:"retriable"`
	At        time.Time `json:"at"`
}

// Message is immutable once created; only the delivery status is updated
// by provider callbacks.
type Message struct {
	ID                int               `db:"id" json:"id"`
	ConversationID    int               `db:"conversation_id" json:"conversation_id"`
	Direction         Direction         `db:"direction" json:"direction"`
	Channel           Channel           `db:"channel" json:"channel"`
	Content           string            `db:"content" json:"content"`
	AIGenerated       bool              `db:"ai_generated" json:"ai_generated"`
	DeliveryStatus    DeliveryStatus    `db:"delivery_status" json:"delivery_status"`
	ProviderMessageID string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	LastError         string            `db:"last_error" json:"last_error,omitempty"`
	Attempts          []DeliveryAttempt `db:"attempts" json:"attempts,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}
