package inbound

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	"github.com/unclebandit/leadreach-backend/internal/channel"
	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

var tracer = otel.Tracer("github.com/unclebandit/leadreach-backend/internal/inbound")

// Dispatcher applies provider events. Each inbound message is handled under
// the lead's lock so it serializes with in-flight outreach.
type Dispatcher struct {
	Leads         repository.LeadRepositoryInterface
	Campaigns     repository.CampaignRepositoryInterface
	Conversations repository.ConversationRepositoryInterface
	Locks         repository.LockRepositoryInterface
	Engine        *qualification.Engine
	Booking       *booking.Coordinator
	Router        *channel.Router
	Gate          *compliance.Gate
	Defaults      model.CampaignConfig
	LockTTL       time.Duration
	BookingRetry  time.Duration
	Clock         func() time.Time
}

func NewDispatcher(repos repository.Repositories, engine *qualification.Engine, coordinator *booking.Coordinator, router *channel.Router, gate *compliance.Gate, defaults model.CampaignConfig, lockTTL time.Duration) *Dispatcher {
	return &Dispatcher{
		Leads:         repos.Leads,
		Campaigns:     repos.Campaigns,
		Conversations: repos.Conversations,
		Locks:         repos.Locks,
		Engine:        engine,
		Booking:       coordinator,
		Router:        router,
		Gate:          gate,
		Defaults:      defaults,
		LockTTL:       lockTTL,
		BookingRetry:  time.Hour,
		Clock:         time.Now,
	}
}

// Result describes what one event did.
type Result struct {
	Kind        EventKind                  `json:"kind"`
	LeadID      int                        `json:"lead_id,omitempty"`
	Unmatched   bool                       `json:"unmatched,omitempty"`
	Duplicate   bool                       `json:"duplicate,omitempty"`
	Outcome     *qualification.Outcome     `json:"outcome,omitempty"`
	Booking     booking.ConfirmationKind   `json:"booking,omitempty"`
	Appointment *model.Appointment         `json:"appointment,omitempty"`
	Reply       string                     `json:"reply,omitempty"`
	Replied     bool                       `json:"replied"`
	ReplyDenied string                     `json:"reply_denied,omitempty"`
}

// Handle is safe to call again with the same event: repeated deliveries
// and inbound messages are no-ops.
func (d *Dispatcher) Handle(ctx context.Context, ev *Event) (*Result, error) {
	ctx, span := tracer.Start(ctx, "inbound.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("event.channel", string(ev.Channel)),
	)
	res, err := d.handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res.LeadID > 0 {
		span.SetAttributes(attribute.Int("lead.id", res.LeadID))
	}
	return res, err
}

func (d *Dispatcher) handle(ctx context.Context, ev *Event) (*Result, error) {
	switch ev.Kind {
	case EventDelivery:
		found, err := d.Conversations.UpdateDeliveryStatus(ctx, ev.ProviderMessageID, ev.Status, ev.Error)
		if err != nil {
			return nil, fmt.Errorf("update delivery status: %w", err)
		}
		if !found {
			log.Printf("⚠️ delivery receipt for unknown message %s", ev.ProviderMessageID)
		}
		return &Result{Kind: EventDelivery}, nil
	case EventMessage:
		return d.handleMessage(ctx, ev)
	default:
		return &Result{Kind: EventIgnored}, nil
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev *Event) (*Result, error) {
	res := &Result{Kind: EventMessage}
	now := d.now()

	var phone, email string
	if ev.Channel == model.ChannelEmail {
		email = strings.ToLower(strings.TrimSpace(ev.From))
	} else if p, ok := channel.NormalizePhone(ev.From); ok {
		phone = p
	}
	lead, err := d.Leads.FindByContact(ctx, phone, email)
	if err != nil {
		return nil, fmt.Errorf("match sender: %w", err)
	}
	if lead == nil {
		log.Printf("⚠️ inbound %s from unknown sender %s", ev.ProviderMessageID, ev.From)
		res.Unmatched = true
		return res, nil
	}
	res.LeadID = lead.ID

	owner := "inbound-" + uuid.NewString()
	ok, err := d.Locks.Acquire(ctx, lead.ID, owner, d.LockTTL, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewLockContention(lead.ID)
	}
	defer func() {
		if err := d.Locks.Release(context.WithoutCancel(ctx), lead.ID, owner); err != nil {
			log.Printf("⚠️ release lock for lead %d: %v", lead.ID, err)
		}
	}()

	lead, err = d.Leads.GetByID(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	conv, err := d.Conversations.GetOrCreateForLead(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	history := conv.Messages
	if seen(history, ev.ProviderMessageID) {
		res.Duplicate = true
		return res, nil
	}

	outcome, err := d.Engine.HandleInbound(ctx, lead, history, ev.Text, now)
	if err != nil {
		return nil, err
	}
	res.Outcome = outcome
	reply := outcome.Reply

	if outcome.NeedsBooking() && d.Booking != nil {
		reply, err = d.book(ctx, lead, outcome, ev.Text, now, res)
		if err != nil {
			log.Printf("⚠️ booking for lead %d: %v", lead.ID, err)
			reply = ""
			d.retryBooking(lead, now)
		}
	}

	campaign, err := d.campaignFor(ctx, lead)
	if err != nil {
		return nil, err
	}

	// The lead is saved as if the reply never goes out. A failed send
	// then leaves it due, and a failed save leaves the event unstored so
	// redelivery applies it again.
	before := lead.Status
	if reply != "" {
		res.Reply = reply
		if err := d.pending(lead, now); err != nil {
			return nil, err
		}
	}
	if err := d.save(ctx, lead, conv.ID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ConversationID:    conv.ID,
		Direction:         model.DirectionInbound,
		Channel:           ev.Channel,
		Content:           ev.Text,
		DeliveryStatus:    model.DeliveryReceived,
		ProviderMessageID: ev.ProviderMessageID,
		CreatedAt:         now,
	}
	stored, err := d.Conversations.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("store inbound message: %w", err)
	}
	if !stored {
		res.Duplicate = true
		return res, nil
	}
	d.recordStats(ctx, lead, outcome, res)

	if reply == "" {
		return res, nil
	}
	changed, err := d.reply(ctx, campaign, lead, before, conv.ID, reply, outcome.AIGenerated, now, res)
	if err != nil {
		log.Printf("⚠️ reply to lead %d: %v", lead.ID, err)
	}
	if changed {
		if err := d.save(ctx, lead, conv.ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func seen(history []model.Message, providerID string) bool {
	if providerID == "" {
		return false
	}
	for _, m := range history {
		if m.Direction == model.DirectionInbound && m.ProviderMessageID == providerID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) save(ctx context.Context, lead *model.Lead, conversationID int) error {
	if err := d.Leads.Update(ctx, lead); err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if err := d.Conversations.UpdateState(ctx, conversationID, lead.Status, d.Engine.StageIndex(lead)); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	return nil
}

// book offers slots to a lead that just qualified and confirms replies from a
// lead that already has an offer.
func (d *Dispatcher) book(ctx context.Context, lead *model.Lead, outcome *qualification.Outcome, text string, now time.Time, res *Result) (string, error) {
	waiting := outcome.Previous == model.LeadQualified || outcome.Previous == model.LeadNoShow
	if !waiting || len(lead.OfferedSlots) == 0 {
		p, err := d.Booking.Propose(ctx, lead, now)
		if err != nil {
			return "", err
		}
		return p.Message, nil
	}
	conf, err := d.Booking.Confirm(ctx, lead, text, now)
	if err != nil {
		return "", err
	}
	res.Booking = conf.Kind
	res.Appointment = conf.Appointment
	return conf.Message, nil
}

// retryBooking makes a lead whose slot offer could not be built due again
// later, so the scheduler offers slots once the calendar has some.
func (d *Dispatcher) retryBooking(lead *model.Lead, now time.Time) {
	if lead.Status != model.LeadQualified && lead.Status != model.LeadNoShow {
		return
	}
	delay := d.BookingRetry
	if delay <= 0 {
		delay = time.Hour
	}
	at := now.Add(delay)
	lead.NextFollowUpAt = &at
}

// pending leaves the lead due right away. It is the state kept when a reply
// is denied or fails, and is replaced once the reply is delivered.
func (d *Dispatcher) pending(lead *model.Lead, now time.Time) error {
	if lead.Status.Terminal() || lead.Status == model.LeadAppointmentSet {
		return nil
	}
	if lead.Status == model.LeadResponded {
		if err := d.Engine.AwaitReply(lead, 0, now); err != nil {
			return err
		}
	}
	due := now
	lead.NextFollowUpAt = &due
	return nil
}

// reply sends through the same gate as scheduled outreach. It reports
// whether the lead changed and must be saved again.
func (d *Dispatcher) reply(ctx context.Context, campaign *model.Campaign, lead *model.Lead, before model.LeadStatus, conversationID int, text string, ai bool, now time.Time, res *Result) (bool, error) {
	if decision := d.evaluate(lead, campaign, now); !decision.Allowed {
		res.ReplyDenied = decision.Reason
		return false, nil
	}

	delivery, err := d.Router.Send(ctx, lead, conversationID, text, ai)
	if err != nil {
		return false, err
	}
	if !delivery.Delivered {
		if delivery.Retriable {
			return false, delivery.Err
		}
		lead.ManualReview = true
		lead.ReviewReason = fmt.Sprintf("reply failed: %v", delivery.Err)
		return true, delivery.Err
	}
	res.Replied = true

	loc, _ := lead.Location(campaign.Config.Timezone)
	lead.RecordContact(compliance.LocalDay(now, loc), now)
	d.scheduleAfterReply(campaign, lead, before, now)
	return true, nil
}

func (d *Dispatcher) scheduleAfterReply(campaign *model.Campaign, lead *model.Lead, before model.LeadStatus, now time.Time) {
	timeout := time.Duration(campaign.Config.ResponseTimeoutHours) * time.Hour
	var next *time.Time
	if timeout > 0 {
		at := now.Add(timeout)
		next = &at
	}
	switch {
	case before == model.LeadResponded:
		lead.FollowUpIndex = 0
		lead.NextFollowUpAt = next
	case lead.Status == model.LeadQualified, lead.Status == model.LeadNoShow:
		lead.NextFollowUpAt = next
	}
}

func (d *Dispatcher) recordStats(ctx context.Context, lead *model.Lead, outcome *qualification.Outcome, res *Result) {
	if lead.CampaignID == nil {
		return
	}
	var stats []string
	switch outcome.Previous {
	case model.LeadNew, model.LeadContacted, model.LeadWaitingResponse:
		if lead.Status != model.LeadOptedOut {
			stats = append(stats, model.StatResponded)
		}
	}
	if outcome.Previous != model.LeadQualified && lead.Status == model.LeadQualified {
		stats = append(stats, model.StatQualified)
	}
	if outcome.Previous != model.LeadOptedOut && lead.Status == model.LeadOptedOut {
		stats = append(stats, model.StatOptedOut)
	}
	if res.Booking == booking.Confirmed {
		stats = append(stats, model.StatAppointments)
	}
	for _, stat := range stats {
		if err := d.Campaigns.IncrementStat(ctx, *lead.CampaignID, stat, 1); err != nil {
			log.Printf("⚠️ campaign %d stat %s: %v", *lead.CampaignID, stat, err)
		}
	}
}

// evaluate treats a nil gate as allow-all; only simulations run without one.
func (d *Dispatcher) evaluate(lead *model.Lead, campaign *model.Campaign, now time.Time) compliance.Decision {
	if d.Gate == nil {
		return compliance.Decision{Allowed: true}
	}
	return d.Gate.Evaluate(lead, campaign, now)
}

func (d *Dispatcher) campaignFor(ctx context.Context, lead *model.Lead) (*model.Campaign, error) {
	if lead.CampaignID == nil {
		return d.Defaults.Standalone(), nil
	}
	return d.Campaigns.GetByID(ctx, *lead.CampaignID)
}

func (d *Dispatcher) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}
