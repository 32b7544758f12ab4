package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

// RetryPolicy bounds the retries of transient transport failures. The lead
// lock is held for the whole sequence, so every field must stay small.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	Timeout         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      20 * time.Second,
		Timeout:         10 * time.Second,
	}
}

// Delivery is the normalized outcome of one send cycle.
type Delivery struct {
	Delivered         bool
	Channel           model.Channel
	Retriable         bool
	ProviderMessageID string
	Message           *model.Message
	Err               error
}

// Router picks SMS first and falls back to email. Each call to Send records
// exactly one outbound Message carrying every attempt made.
type Router struct {
	SMS           Transport
	Email         Transport
	Conversations repository.ConversationRepositoryInterface
	Policy        RetryPolicy
	Now           func() time.Time
}

func NewRouter(sms, email Transport, conversations repository.ConversationRepositoryInterface, policy RetryPolicy) *Router {
	return &Router{
		SMS:           sms,
		Email:         email,
		Conversations: conversations,
		Policy:        policy,
		Now:           time.Now,
	}
}

// Send delivers content to the lead. A transport failure is reported in the
// Delivery; the returned error is only set when the audit record could not
// be written.
func (r *Router) Send(ctx context.Context, lead *model.Lead, conversationID int, content string, aiGenerated bool) (*Delivery, error) {
	var attempts []model.DeliveryAttempt
	d := &Delivery{Channel: model.ChannelSMS}

	phone, phoneOK := NormalizePhone(lead.Phone)
	email := strings.TrimSpace(lead.Email)

	if phoneOK && r.SMS != nil {
		receipt, err := r.attempt(ctx, r.SMS, Envelope{To: phone, Body: content}, &attempts)
		if err == nil {
			d.markDelivered(model.ChannelSMS, receipt)
		} else {
			d.Err = err
			log.Printf("sms to lead %d failed: %v", lead.ID, err)
		}
	}

	if !d.Delivered && email != "" && r.Email != nil {
		receipt, err := r.attempt(ctx, r.Email, Envelope{To: email, Body: content}, &attempts)
		if err == nil {
			d.markDelivered(model.ChannelEmail, receipt)
		} else {
			d.Channel = model.ChannelEmail
			d.Err = err
			log.Printf("email to lead %d failed: %v", lead.ID, err)
		}
	}

	if !d.Delivered {
		if d.Err == nil {
			d.Err = appErrors.NewTransportPermanent("none", "no_channel",
				fmt.Errorf("lead %d has no usable phone or email", lead.ID))
		}
		d.Retriable = appErrors.IsRetriable(d.Err)
	}

	msg := &model.Message{
		ConversationID:    conversationID,
		Direction:         model.DirectionOutbound,
		Channel:           d.Channel,
		Content:           content,
		AIGenerated:       aiGenerated,
		DeliveryStatus:    d.status(),
		ProviderMessageID: d.ProviderMessageID,
		Attempts:          attempts,
		CreatedAt:         r.now(),
	}
	if d.Err != nil && !d.Delivered {
		msg.LastError = d.Err.Error()
	}
	if _, err := r.Conversations.AppendMessage(ctx, msg); err != nil {
		return d, fmt.Errorf("record outbound message for lead %d: %w", lead.ID, err)
	}
	d.Message = msg
	return d, nil
}

// attempt runs one transport with bounded exponential backoff on transient
// errors. Each call is logged into attempts.
func (r *Router) attempt(ctx context.Context, t Transport, env Envelope, attempts *[]model.DeliveryAttempt) (Receipt, error) {
	policy := r.Policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval

	n := 0
	op := func() (Receipt, error) {
		n++
		callCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}
		receipt, err := t.Send(callCtx, env)

		entry := model.DeliveryAttempt{Channel: t.Channel(), Attempt: n, At: r.now()}
		if err != nil {
			entry.Error = err.Error()
			entry.Retriable = appErrors.IsRetriable(err)
		}
		*attempts = append(*attempts, entry)

		if err != nil && !appErrors.IsRetriable(err) {
			return receipt, backoff.Permanent(err)
		}
		return receipt, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	}
	if policy.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsed))
	}

	receipt, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return receipt, nil
	}
	var te *appErrors.TransportError
	if !errors.As(err, &te) {
		// context cancellation or an untyped provider error
		err = appErrors.NewTransportTransient(string(t.Channel()), "unknown", err)
	}
	return Receipt{}, err
}

func (d *Delivery) markDelivered(ch model.Channel, receipt Receipt) {
	d.Delivered = true
	d.Channel = ch
	d.Retriable = false
	d.ProviderMessageID = receipt.ProviderMessageID
	d.Err = nil
}

func (d *Delivery) status() model.DeliveryStatus {
	if !d.Delivered {
		return model.DeliveryFailed
	}
	// SMS delivery is confirmed later by the provider callback.
	if d.Channel == model.ChannelSMS && d.ProviderMessageID != "" {
		return model.DeliveryPending
	}
	return model.DeliveryDelivered
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
