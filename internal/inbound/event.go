// Package inbound handles provider callbacks: delivery receipts and replies.
package inbound

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

type EventKind string

const (
	EventMessage  EventKind = "message"
	EventDelivery EventKind = "delivery"
	EventIgnored  EventKind = "ignored"
)

// Event is a provider callback reduced to what the dispatcher needs.
type Event struct {
	ID                string               `json:"id"`
	Type              string               `json:"type"`
	Kind              EventKind            `json:"kind"`
	Channel           model.Channel        `json:"channel"`
	ProviderMessageID string               `json:"provider_message_id"`
	From              string               `json:"from,omitempty"`
	Text              string               `json:"text,omitempty"`
	Status            model.DeliveryStatus `json:"status,omitempty"`
	Error             string               `json:"error,omitempty"`
	OccurredAt        time.Time            `json:"occurred_at"`
}

var smsStatuses = map[string]model.DeliveryStatus{
	"queued":               model.DeliveryPending,
	"sending":              model.DeliveryPending,
	"sent":                 model.DeliveryPending,
	"delivered":            model.DeliveryDelivered,
	"sending_failed":       model.DeliveryFailed,
	"delivery_failed":      model.DeliveryFailed,
	"delivery_unconfirmed": model.DeliveryFailed,
}

// ParseEvent reads SMS callbacks (message.received, message.sent,
// message.finalized) and email callbacks (email.received, email.delivered,
// email.bounced). Unknown event types come back as EventIgnored.
func ParseEvent(body []byte) (*Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, appErrors.ErrMalformedPayload
	}
	doc := gjson.ParseBytes(body)

	ev := &Event{
		ID:   doc.Get("data.id").String(),
		Type: doc.Get("data.event_type").String(),
	}
	if ev.Type == "" {
		ev.Type = doc.Get("type").String()
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", appErrors.ErrMalformedPayload)
	}

	switch ev.Type {
	case "message.received":
		p := doc.Get("data.payload")
		ev.Kind = EventMessage
		ev.Channel = model.ChannelSMS
		ev.ProviderMessageID = p.Get("id").String()
		ev.From = p.Get("from.phone_number").String()
		ev.Text = p.Get("text").String()
		ev.OccurredAt = timeOf(p.Get("received_at"), doc.Get("data.occurred_at"))

	case "message.sent", "message.finalized":
		p := doc.Get("data.payload")
		ev.Kind = EventDelivery
		ev.Channel = model.ChannelSMS
		ev.ProviderMessageID = p.Get("id").String()
		status, ok := smsStatuses[p.Get("to.0.status").String()]
		if !ok {
			status = model.DeliveryPending
		}
		ev.Status = status
		ev.Error = p.Get("errors.0.detail").String()
		ev.OccurredAt = timeOf(doc.Get("data.occurred_at"))

	case "email.received":
		d := doc.Get("data")
		ev.Kind = EventMessage
		ev.Channel = model.ChannelEmail
		ev.ProviderMessageID = firstString(d.Get("email_id"), d.Get("id"))
		ev.From = d.Get("from").String()
		ev.Text = firstString(d.Get("text"), d.Get("subject"))
		ev.OccurredAt = timeOf(d.Get("created_at"), doc.Get("created_at"))

	case "email.delivered", "email.bounced":
		d := doc.Get("data")
		ev.Kind = EventDelivery
		ev.Channel = model.ChannelEmail
		ev.ProviderMessageID = firstString(d.Get("email_id"), d.Get("id"))
		ev.Status = model.DeliveryDelivered
		if ev.Type == "email.bounced" {
			ev.Status = model.DeliveryFailed
			ev.Error = firstString(d.Get("bounce.message"))
			if ev.Error == "" {
				ev.Error = "bounced"
			}
		}
		ev.OccurredAt = timeOf(doc.Get("created_at"))

	default:
		ev.Kind = EventIgnored
		return ev, nil
	}

	if ev.ProviderMessageID == "" {
		return nil, fmt.Errorf("%w: %s without a message id", appErrors.ErrMalformedPayload, ev.Type)
	}
	if ev.Kind == EventMessage && strings.TrimSpace(ev.From) == "" {
		return nil, fmt.Errorf("%w: %s without a sender", appErrors.ErrMalformedPayload, ev.Type)
	}
	return ev, nil
}

func firstString(values ...gjson.Result) string {
	for _, v := range values {
		if s := strings.TrimSpace(v.String()); s != "" {
			return s
		}
	}
	return ""
}

func timeOf(values ...gjson.Result) time.Time {
	for _, v := range values {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return t
		}
	}
	return time.Time{}
}
