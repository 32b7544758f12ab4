// Package scheduler runs campaign executions: select due leads, gate them,
// send and schedule the next follow-up.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	"github.com/unclebandit/leadreach-backend/internal/channel"
	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

var tracer = otel.Tracer("github.com/unclebandit/leadreach-backend/internal/scheduler")

// Skip reasons that are not compliance decisions.
const (
	ReasonLockContention = "lock_contention"
	ReasonNotDue         = "not_due"
	ReasonCampaignCap    = "campaign_daily_limit"
)

type Options struct {
	Workers int
	LockTTL time.Duration
	Clock   func() time.Time
}

func DefaultOptions() Options {
	return Options{Workers: 4, LockTTL: 2 * time.Minute, Clock: time.Now}
}

type Scheduler struct {
	Campaigns     repository.CampaignRepositoryInterface
	Leads         repository.LeadRepositoryInterface
	Conversations repository.ConversationRepositoryInterface
	Locks         repository.LockRepositoryInterface
	Gate          *compliance.Gate
	Engine        *qualification.Engine
	Booking       *booking.Coordinator
	Router        *channel.Router
	Options       Options

	progress *Registry
}

func New(repos repository.Repositories, gate *compliance.Gate, engine *qualification.Engine, coordinator *booking.Coordinator, router *channel.Router, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		Campaigns:     repos.Campaigns,
		Leads:         repos.Leads,
		Conversations: repos.Conversations,
		Locks:         repos.Locks,
		Gate:          gate,
		Engine:        engine,
		Booking:       coordinator,
		Router:        router,
		Options:       opts,
		progress:      NewRegistry(),
	}
}

type OutcomeKind string

const (
	OutcomeContacted OutcomeKind = "contacted"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// LeadOutcome is the per-lead line of an execution summary.
type LeadOutcome struct {
	LeadID    int           `json:"lead_id"`
	Kind      OutcomeKind   `json:"kind"`
	Reason    string        `json:"reason,omitempty"`
	Channel   model.Channel `json:"channel,omitempty"`
	Retriable bool          `json:"retriable,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type ExecutionResult struct {
	ExecutionID string         `json:"execution_id"`
	CampaignID  int            `json:"campaign_id"`
	Selected    int            `json:"selected"`
	Contacted   int            `json:"contacted"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	SkipReasons map[string]int `json:"skip_reasons"`
	Errors      []LeadOutcome  `json:"errors"`
	Outcomes    []LeadOutcome  `json:"outcomes"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

func (r *ExecutionResult) add(o LeadOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Kind {
	case OutcomeContacted:
		r.Contacted++
	case OutcomeSkipped:
		r.Skipped++
		r.SkipReasons[o.Reason]++
	case OutcomeFailed:
		r.Failed++
		r.Errors = append(r.Errors, o)
	}
}

// Progress reports the latest execution of a campaign.
func (s *Scheduler) Progress(campaignID int) (Progress, bool) {
	return s.progress.Get(campaignID)
}

// Execute runs one batch for an active campaign. Per-lead failures are
// reported in the result and never abort the batch.
func (s *Scheduler) Execute(ctx context.Context, campaignID int) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "scheduler.Execute")
	defer span.End()
	span.SetAttributes(attribute.Int("campaign.id", campaignID))

	campaign, err := s.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignActive {
		return nil, appErrors.NewInvalidStateTransition("campaign", string(campaign.Status), "execute")
	}

	now := s.Options.Clock()
	result := &ExecutionResult{
		ExecutionID: uuid.NewString(),
		CampaignID:  campaignID,
		SkipReasons: map[string]int{},
		Errors:      []LeadOutcome{},
		Outcomes:    []LeadOutcome{},
		StartedAt:   now,
	}

	used, err := s.Campaigns.DailyContacts(ctx, campaignID, campaign.Day(now))
	if err != nil {
		return nil, fmt.Errorf("daily contacts: %w", err)
	}
	remaining := campaign.Config.MaxDailyContacts - used
	if remaining <= 0 {
		log.Printf("⏸️ Campaign %d reached its daily cap (%d)", campaignID, campaign.Config.MaxDailyContacts)
		result.FinishedAt = s.Options.Clock()
		s.progress.Finish(campaignID, result)
		return result, nil
	}

	leads, err := s.Leads.ListDue(ctx, campaignID, now, remaining)
	if err != nil {
		return nil, fmt.Errorf("select due leads: %w", err)
	}
	result.Selected = len(leads)
	span.SetAttributes(attribute.Int("leads.selected", len(leads)))
	s.progress.Start(campaignID, result.ExecutionID, len(leads), now)
	log.Printf("🚀 Executing campaign %d: %d due leads (execution %s)", campaignID, len(leads), result.ExecutionID)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Options.Workers)
	for _, lead := range leads {
		leadID := lead.ID
		g.Go(func() error {
			outcome := s.processLead(gctx, campaignID, leadID, result.ExecutionID)
			mu.Lock()
			result.add(outcome)
			mu.Unlock()
			s.progress.Record(campaignID, outcome)
			return nil
		})
	}
	_ = g.Wait()

	result.FinishedAt = s.Options.Clock()
	s.progress.Finish(campaignID, result)
	span.SetAttributes(
		attribute.Int("leads.contacted", result.Contacted),
		attribute.Int("leads.skipped", result.Skipped),
		attribute.Int("leads.failed", result.Failed),
	)
	log.Printf("✅ Campaign %d execution done: contacted=%d skipped=%d failed=%d",
		campaignID, result.Contacted, result.Skipped, result.Failed)
	return result, nil
}

func (s *Scheduler) processLead(ctx context.Context, campaignID, leadID int, owner string) LeadOutcome {
	ctx, span := tracer.Start(ctx, "scheduler.processLead")
	defer span.End()
	span.SetAttributes(attribute.Int("lead.id", leadID))

	out := LeadOutcome{LeadID: leadID}
	now := s.Options.Clock()

	ok, err := s.Locks.Acquire(ctx, leadID, owner, s.Options.LockTTL, now)
	if err != nil {
		return s.failed(span, out, err, false)
	}
	if !ok {
		out.Kind, out.Reason = OutcomeSkipped, ReasonLockContention
		return out
	}
	defer func() {
		// the lease expires on its own if this fails
		if err := s.Locks.Release(context.WithoutCancel(ctx), leadID, owner); err != nil {
			log.Printf("⚠️ release lock for lead %d: %v", leadID, err)
		}
	}()

	// state may have changed between selection and locking
	lead, err := s.Leads.GetByID(ctx, leadID)
	if err != nil {
		return s.failed(span, out, err, false)
	}
	campaign, err := s.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return s.failed(span, out, err, false)
	}

	decision := s.Gate.Evaluate(lead, campaign, now)
	if !decision.Allowed {
		out.Kind, out.Reason = OutcomeSkipped, decision.Reason
		return out
	}
	if !lead.IsDue(now) {
		out.Kind, out.Reason = OutcomeSkipped, ReasonNotDue
		return out
	}

	day := campaign.Day(now)
	reserved, err := s.Campaigns.ReserveDailyContact(ctx, campaignID, day, campaign.Config.MaxDailyContacts)
	if err != nil {
		return s.failed(span, out, err, false)
	}
	if !reserved {
		out.Kind, out.Reason = OutcomeSkipped, ReasonCampaignCap
		return out
	}
	release := func() {
		if err := s.Campaigns.ReleaseDailyContact(context.WithoutCancel(ctx), campaignID, day); err != nil {
			log.Printf("⚠️ release daily contact for campaign %d: %v", campaignID, err)
		}
	}

	text, ai, err := s.content(ctx, lead, now)
	if err != nil {
		release()
		return s.failed(span, out, err, false)
	}
	conv, err := s.Conversations.GetOrCreateForLead(ctx, lead.ID)
	if err != nil {
		release()
		return s.failed(span, out, err, false)
	}

	delivery, err := s.Router.Send(ctx, lead, conv.ID, text, ai)
	if err != nil {
		release()
		return s.failed(span, out, err, false)
	}
	out.Channel = delivery.Channel

	if !delivery.Delivered {
		release()
		if delivery.Retriable {
			// stays due and is picked up by the next run
			return s.failed(span, out, delivery.Err, true)
		}
		lead.ManualReview = true
		lead.ReviewReason = fmt.Sprintf("delivery failed: %v", delivery.Err)
		if err := s.Leads.Update(ctx, lead); err != nil {
			log.Printf("⚠️ flag lead %d for review: %v", lead.ID, err)
		}
		s.bumpStat(ctx, campaignID, model.StatFailed)
		return s.failed(span, out, delivery.Err, false)
	}

	if err := s.recordContact(ctx, campaign, lead, conv, now); err != nil {
		return s.failed(span, out, err, false)
	}
	out.Kind = OutcomeContacted
	return out
}

// content picks slot offers for leads waiting on booking and qualification
// messages for everyone else.
func (s *Scheduler) content(ctx context.Context, lead *model.Lead, now time.Time) (string, bool, error) {
	if s.Booking != nil && (lead.Status == model.LeadQualified || lead.Status == model.LeadNoShow) {
		p, err := s.Booking.Propose(ctx, lead, now)
		if err != nil {
			return "", false, err
		}
		return p.Message, false, nil
	}
	c, err := s.Engine.Outbound(ctx, lead)
	if err != nil {
		return "", false, err
	}
	return c.Text, c.AIGenerated, nil
}

func (s *Scheduler) recordContact(ctx context.Context, campaign *model.Campaign, lead *model.Lead, conv *model.Conversation, now time.Time) error {
	loc, _ := lead.Location(campaign.Config.Timezone)
	lead.RecordContact(compliance.LocalDay(now, loc), now)

	firstContact := lead.Status == model.LeadNew
	if firstContact {
		if err := s.Engine.Transition(lead, model.LeadContacted); err != nil {
			return err
		}
	}
	if offset, ok := campaign.Config.FollowUpOffset(lead.FollowUpIndex); ok {
		at := now.Add(offset)
		lead.NextFollowUpAt = &at
	} else {
		lead.NextFollowUpAt = nil
	}
	lead.FollowUpIndex++

	if err := s.Leads.Update(ctx, lead); err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if err := s.Conversations.UpdateState(ctx, conv.ID, lead.Status, s.Engine.StageIndex(lead)); err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if firstContact {
		s.bumpStat(ctx, campaign.ID, model.StatContacted)
	}
	return nil
}

func (s *Scheduler) bumpStat(ctx context.Context, campaignID int, stat string) {
	if err := s.Campaigns.IncrementStat(ctx, campaignID, stat, 1); err != nil {
		log.Printf("⚠️ campaign %d stat %s: %v", campaignID, stat, err)
	}
}

func (s *Scheduler) failed(span trace.Span, out LeadOutcome, err error, retriable bool) LeadOutcome {
	out.Kind = OutcomeFailed
	out.Retriable = retriable
	if err != nil {
		out.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	log.Printf("❌ lead %d: %v", out.LeadID, err)
	return out
}
