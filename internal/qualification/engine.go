package qualification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

const escalationReason = "repeated unclear replies"

// Settings is threaded in at construction so the simulation and production
// paths behave identically.
type Settings struct {
	MaxUnparseable     int
	ExtractionAttempts int
	FutureInterestDays int
}

func DefaultSettings() Settings {
	return Settings{MaxUnparseable: 2, ExtractionAttempts: 2, FutureInterestDays: 90}
}

type Engine struct {
	Flows     *Flows
	Extractor Extractor
	Generator Generator
	Settings  Settings
}

func NewEngine(flows *Flows, extractor Extractor, generator Generator, settings Settings) *Engine {
	if extractor == nil {
		extractor = KeywordExtractor{}
	}
	if generator == nil {
		generator = TemplateGenerator{}
	}
	if settings.MaxUnparseable < 1 {
		settings.MaxUnparseable = 1
	}
	if settings.ExtractionAttempts < 1 {
		settings.ExtractionAttempts = 1
	}
	return &Engine{Flows: flows, Extractor: extractor, Generator: generator, Settings: settings}
}

// Content is an outbound message ready for the router.
type Content struct {
	Text        string
	AIGenerated bool
	Kind        MessageKind
}

// Outcome reports what HandleInbound did to the lead. An empty Reply means
// nothing should be sent.
type Outcome struct {
	Intent           Intent            `json:"intent"`
	Previous         model.LeadStatus  `json:"previous_status"`
	Status           model.LeadStatus  `json:"status"`
	StageIndex       int               `json:"stage_index"`
	Updates          map[string]string `json:"updates,omitempty"`
	Reply            string            `json:"reply,omitempty"`
	AIGenerated      bool              `json:"ai_generated"`
	Qualified        bool              `json:"qualified"`
	Escalated        bool              `json:"escalated"`
	ExtractionFailed bool              `json:"extraction_failed"`
	FollowUpAt       *time.Time        `json:"follow_up_at,omitempty"`
}

// NeedsBooking is true when the caller should hand the lead to booking.
func (o *Outcome) NeedsBooking() bool {
	return o.Qualified
}

// Outbound builds the scheduled message for the lead's current stage.
func (e *Engine) Outbound(ctx context.Context, lead *model.Lead) (Content, error) {
	flow, err := e.Flows.For(lead.PropertyType)
	if err != nil {
		return Content{}, err
	}

	pending := flow.NextField(lead.QualificationData)
	data := TemplateData(lead, pending)

	var kind MessageKind
	var template string
	switch {
	case lead.Status == model.LeadNew:
		kind, template = MessageInitial, flow.InitialOutreach
	case len(lead.QualificationData) > 0 && pending != nil && flow.PendingFollowUp != "":
		kind, template = MessageFollowUp, flow.PendingFollowUp
	case len(flow.FollowUps) > 0:
		idx := lead.FollowUpIndex - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(flow.FollowUps) {
			idx = len(flow.FollowUps) - 1
		}
		kind, template = MessageFollowUp, flow.FollowUps[idx]
	default:
		kind, template = MessageInitial, flow.InitialOutreach
	}

	text, ai := e.generate(ctx, GenerateRequest{
		Flow:     flow,
		Lead:     lead,
		Kind:     kind,
		Field:    pending,
		Fallback: RenderTemplate(template, data),
	})
	return Content{Text: text, AIGenerated: ai, Kind: kind}, nil
}

// HandleInbound classifies a reply and advances the lead. lead is updated in
// place only when every transition is allowed; on error it is untouched.
func (e *Engine) HandleInbound(ctx context.Context, lead *model.Lead, history []model.Message, text string, now time.Time) (*Outcome, error) {
	flow, err := e.Flows.For(lead.PropertyType)
	if err != nil {
		return nil, err
	}
	next := lead.Clone()
	if next.QualificationData == nil {
		next.QualificationData = map[string]string{}
	}
	out := &Outcome{Previous: lead.Status}
	pending := flow.NextField(next.QualificationData)

	var ext Extraction
	if compliance.IsOptOut(text) {
		ext = Extraction{Intent: IntentOptOut}
	} else {
		ext, err = e.extract(ctx, ExtractRequest{
			Flow:    flow,
			Intents: e.Flows.Intents,
			Lead:    lead,
			Pending: pending,
			Known:   lead.QualificationData,
			Text:    text,
			History: history,
		})
		if err != nil {
			log.Printf("lead %d: %v, asking a clarifying question", lead.ID, err)
			out.Intent = IntentOffTopic
			out.ExtractionFailed = true
			out.Status = lead.Status
			out.StageIndex = flow.StageIndex(lead.QualificationData)
			out.Reply, out.AIGenerated = e.reply(ctx, flow, lead, MessageClarify, pending, text, history, flow.Clarify)
			return out, nil
		}
	}
	out.Intent = ext.Intent

	switch ext.Intent {
	case IntentOptOut:
		if err := e.transition(flow, next, model.LeadOptedOut); err != nil {
			return nil, err
		}
		next.NextFollowUpAt = nil

	case IntentDecline:
		if next.Status.Terminal() {
			break
		}
		if ext.FutureInterest && e.Settings.FutureInterestDays > 0 && flow.Allowed(next.Status, model.LeadWaitingResponse) {
			if err := e.transition(flow, next, model.LeadWaitingResponse); err != nil {
				return nil, err
			}
			at := now.Add(time.Duration(e.Settings.FutureInterestDays) * 24 * time.Hour)
			next.NextFollowUpAt = &at
			out.FollowUpAt = &at
			out.Reply, out.AIGenerated = e.reply(ctx, flow, next, MessageFutureInterest, nil, text, history, flow.FutureInterest)
		} else {
			if err := e.transition(flow, next, model.LeadNotInterested); err != nil {
				return nil, err
			}
			next.NextFollowUpAt = nil
			out.Reply, out.AIGenerated = e.reply(ctx, flow, next, MessageNotInterested, nil, text, history, flow.NotInterested)
		}

	default:
		if next.Status.Terminal() || next.Status == model.LeadAppointmentSet {
			// closed or held for the appointment; a human picks it up from the thread
			break
		}
		if next.Status == model.LeadQualified || next.Status == model.LeadNoShow {
			out.Updates = mergeFields(flow, next.QualificationData, ext.Fields)
			out.Qualified = true
			break
		}
		if err := e.advance(ctx, flow, next, ext, text, history, out); err != nil {
			return nil, err
		}
	}

	*lead = *next
	out.Status = lead.Status
	out.StageIndex = flow.StageIndex(lead.QualificationData)
	out.Escalated = lead.Escalated
	return out, nil
}

// advance handles the intents that keep the lead in qualification.
func (e *Engine) advance(ctx context.Context, flow *Flow, lead *model.Lead, ext Extraction, text string, history []model.Message, out *Outcome) error {
	switch ext.Intent {
	case IntentAnswered, IntentReadyToBook:
		out.Updates = mergeFields(flow, lead.QualificationData, ext.Fields)
		lead.UnparseableStreak = 0
		if flow.Complete(lead.QualificationData) {
			if err := e.transition(flow, lead, model.LeadQualified); err != nil {
				return err
			}
			lead.NextFollowUpAt = nil
			out.Qualified = true
			return nil
		}
		if err := e.transition(flow, lead, model.LeadResponded); err != nil {
			return err
		}
		field := flow.NextField(lead.QualificationData)
		out.Reply, out.AIGenerated = e.reply(ctx, flow, lead, MessageQuestion, field, text, history, flow.Ask)

	case IntentObjection:
		if err := e.transition(flow, lead, model.LeadResponded); err != nil {
			return err
		}
		template := flow.DefaultObjection
		for _, o := range flow.Objections {
			if o.Key == ext.Objection {
				template = o.Reply
			}
		}
		field := flow.NextField(lead.QualificationData)
		out.Reply, out.AIGenerated = e.reply(ctx, flow, lead, MessageObjection, field, text, history, template)

	default:
		if err := e.transition(flow, lead, model.LeadResponded); err != nil {
			return err
		}
		lead.UnparseableStreak++
		if lead.UnparseableStreak >= e.Settings.MaxUnparseable {
			lead.Escalated = true
			lead.ReviewReason = escalationReason
			lead.NextFollowUpAt = nil
			return nil
		}
		field := flow.NextField(lead.QualificationData)
		out.Reply, out.AIGenerated = e.reply(ctx, flow, lead, MessageClarify, field, text, history, flow.Clarify)
	}
	return nil
}

// AwaitReply moves a lead that was just answered to waiting_response and
// schedules the no-reply follow-up.
func (e *Engine) AwaitReply(lead *model.Lead, timeout time.Duration, now time.Time) error {
	flow, err := e.Flows.For(lead.PropertyType)
	if err != nil {
		return err
	}
	if err := e.transition(flow, lead, model.LeadWaitingResponse); err != nil {
		return err
	}
	if timeout > 0 {
		at := now.Add(timeout)
		lead.NextFollowUpAt = &at
	}
	return nil
}

// Transition applies a status change permitted by the lead's flow.
func (e *Engine) Transition(lead *model.Lead, to model.LeadStatus) error {
	flow, err := e.Flows.For(lead.PropertyType)
	if err != nil {
		return err
	}
	return e.transition(flow, lead, to)
}

// StageIndex is the conversation's position in the lead's flow.
func (e *Engine) StageIndex(lead *model.Lead) int {
	flow, err := e.Flows.For(lead.PropertyType)
	if err != nil {
		return 0
	}
	return flow.StageIndex(lead.QualificationData)
}

func (e *Engine) transition(flow *Flow, lead *model.Lead, to model.LeadStatus) error {
	if lead.Status == to {
		return nil
	}
	if !flow.Allowed(lead.Status, to) {
		return appErrors.NewInvalidStateTransition("lead", string(lead.Status), string(to))
	}
	lead.Status = to
	return nil
}

func (e *Engine) extract(ctx context.Context, req ExtractRequest) (Extraction, error) {
	var lastErr error
	for attempt := 1; attempt <= e.Settings.ExtractionAttempts; attempt++ {
		ext, err := e.Extractor.Extract(ctx, req)
		if err == nil && !ext.Intent.Valid() {
			err = fmt.Errorf("unknown intent %q", ext.Intent)
		}
		if err == nil {
			return ext, nil
		}
		lastErr = err
	}
	return Extraction{}, &appErrors.ExtractionFailure{Err: lastErr}
}

func (e *Engine) reply(ctx context.Context, flow *Flow, lead *model.Lead, kind MessageKind, field *Field, inbound string, history []model.Message, template string) (string, bool) {
	if strings.TrimSpace(template) == "" {
		return "", false
	}
	return e.generate(ctx, GenerateRequest{
		Flow:     flow,
		Lead:     lead,
		Kind:     kind,
		Field:    field,
		Inbound:  inbound,
		History:  history,
		Fallback: RenderTemplate(template, TemplateData(lead, field)),
	})
}

// generate falls back to the rendered template on any generator failure.
func (e *Engine) generate(ctx context.Context, req GenerateRequest) (string, bool) {
	text, err := e.Generator.Generate(ctx, req)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		if err != nil {
			log.Printf("lead %d: generation failed, using template: %v", req.Lead.ID, err)
		}
		return req.Fallback, false
	}
	return text, text != req.Fallback
}

// mergeFields stores values for known, still-empty fields. Stored values are
// never overwritten.
func mergeFields(flow *Flow, data map[string]string, updates map[string]string) map[string]string {
	applied := map[string]string{}
	for name, value := range updates {
		value = strings.TrimSpace(value)
		if value == "" || flow.Field(name) == nil {
			continue
		}
		if strings.TrimSpace(data[name]) != "" {
			continue
		}
		data[name] = value
		applied[name] = value
	}
	return applied
}
