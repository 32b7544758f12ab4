package qualification_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
)

var now = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, extractor qualification.Extractor) *qualification.Engine {
	t.Helper()
	flows, err := qualification.DefaultFlows()
	if err != nil {
		t.Fatalf("load flows: %v", err)
	}
	return qualification.NewEngine(flows, extractor, nil, qualification.DefaultSettings())
}

func fixFlipLead(status model.LeadStatus) *model.Lead {
	return &model.Lead{
		ID:                7,
		FirstName:         "Maria",
		PropertyAddress:   "12 Oak St",
		PropertyType:      model.PropertyFixFlip,
		Status:            status,
		QualificationData: map[string]string{},
	}
}

// FailingExtractor fails the first n calls.
type FailingExtractor struct {
	failures int
	calls    int
}

func (f *FailingExtractor) Extract(ctx context.Context, req qualification.ExtractRequest) (qualification.Extraction, error) {
	f.calls++
	if f.calls <= f.failures {
		return qualification.Extraction{}, errors.New("model unavailable")
	}
	return qualification.KeywordExtractor{}.Extract(ctx, req)
}

func TestStopOptsOut(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadContacted)
	follow := now.Add(time.Hour)
	lead.NextFollowUpAt = &follow

	out, err := engine.HandleInbound(context.Background(), lead, nil, "STOP", now)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lead.Status != model.LeadOptedOut || out.Intent != qualification.IntentOptOut {
		t.Fatalf("expected opted_out, got %s (%s)", lead.Status, out.Intent)
	}
	if out.Reply != "" {
		t.Errorf("opted out lead must not get a reply, got %q", out.Reply)
	}
	if lead.NextFollowUpAt != nil {
		t.Errorf("follow-up must be cleared")
	}
}

func TestAllFieldsInOneMessageQualifies(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadContacted)

	msg := "It's vacant and needs work, the roof leaks. Want to sell asap since I inherited it."
	out, err := engine.HandleInbound(context.Background(), lead, nil, msg, now)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lead.Status != model.LeadQualified || !out.NeedsBooking() {
		t.Fatalf("expected qualified with booking hand-off, got %s %+v", lead.Status, out.Updates)
	}
	if out.Reply != "" {
		t.Errorf("no re-ask expected, got %q", out.Reply)
	}
	want := map[string]string{
		"occupancy":      "vacant",
		"condition":      "needs_work",
		"repairs_needed": "roof",
		"timeline":       "immediate",
		"motivation":     "inherited",
	}
	for k, v := range want {
		if lead.QualificationData[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, lead.QualificationData[k])
		}
	}
	if out.StageIndex != 5 {
		t.Errorf("expected stage 5, got %d", out.StageIndex)
	}
}

func TestStagePointerNeverMovesBack(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadContacted)
	ctx := context.Background()

	replies := []string{
		"It's vacant",
		"what?",
		"actually it's rented",
		"needs work honestly",
		"I don't know",
		"the foundation is sinking",
	}
	last := 0
	for _, r := range replies {
		out, err := engine.HandleInbound(ctx, lead, nil, r, now)
		if err != nil {
			t.Fatalf("handle %q: %v", r, err)
		}
		if out.StageIndex < last {
			t.Fatalf("stage went back from %d to %d on %q", last, out.StageIndex, r)
		}
		last = out.StageIndex
		if lead.Escalated {
			break
		}
	}
	if lead.QualificationData["occupancy"] != "vacant" {
		t.Errorf("stored answer must not be overwritten, got %q", lead.QualificationData["occupancy"])
	}
	if lead.Status == model.LeadQualified {
		t.Errorf("lead cannot be qualified with missing fields")
	}
}

func TestAnsweredAsksNextQuestion(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadWaitingResponse)

	out, err := engine.HandleInbound(context.Background(), lead, nil, "it's vacant", now)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lead.Status != model.LeadResponded || out.StageIndex != 1 {
		t.Fatalf("expected responded at stage 1, got %s at %d", lead.Status, out.StageIndex)
	}
	if out.Reply != "Thanks! How's the condition? Good shape, or does it need work?" {
		t.Errorf("unexpected reply %q", out.Reply)
	}

	if err := engine.AwaitReply(lead, 48*time.Hour, now); err != nil {
		t.Fatalf("await: %v", err)
	}
	if lead.Status != model.LeadWaitingResponse || !lead.NextFollowUpAt.Equal(now.Add(48*time.Hour)) {
		t.Errorf("expected waiting_response with a follow-up in 48h, got %s %v", lead.Status, lead.NextFollowUpAt)
	}
}

func TestUnparseableRepliesEscalate(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadContacted)
	ctx := context.Background()

	out, _ := engine.HandleInbound(ctx, lead, nil, "hmm", now)
	if out.Reply == "" || lead.Escalated {
		t.Fatalf("first unclear reply should re-ask, got %+v", out)
	}
	out, _ = engine.HandleInbound(ctx, lead, nil, "lol ok", now)
	if !lead.Escalated || out.Reply != "" {
		t.Fatalf("second unclear reply should escalate silently, got %+v", out)
	}
	if lead.Status.Terminal() {
		t.Errorf("escalated lead must be held, not closed")
	}
}

func TestExtractionRetriedOnceThenClarifies(t *testing.T) {
	ctx := context.Background()

	flaky := &FailingExtractor{failures: 1}
	engine := newEngine(t, flaky)
	lead := fixFlipLead(model.LeadContacted)
	out, err := engine.HandleInbound(ctx, lead, nil, "it's vacant", now)
	if err != nil || out.ExtractionFailed || lead.QualificationData["occupancy"] != "vacant" {
		t.Fatalf("retry should succeed, got %+v err=%v", out, err)
	}

	broken := &FailingExtractor{failures: 10}
	engine = newEngine(t, broken)
	lead = fixFlipLead(model.LeadContacted)
	out, err = engine.HandleInbound(ctx, lead, nil, "it's vacant", now)
	if err != nil {
		t.Fatalf("extraction failure must not block: %v", err)
	}
	if !out.ExtractionFailed || out.Reply == "" {
		t.Fatalf("expected clarifying question, got %+v", out)
	}
	if broken.calls != 2 {
		t.Errorf("expected 2 extraction attempts, got %d", broken.calls)
	}
	if lead.Status != model.LeadContacted || lead.UnparseableStreak != 0 {
		t.Errorf("failure must not change state, got %s streak=%d", lead.Status, lead.UnparseableStreak)
	}
}

func TestDeclineWithFutureInterest(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadContacted)

	out, err := engine.HandleInbound(context.Background(), lead, nil, "Not right now, maybe next year", now)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if lead.Status != model.LeadWaitingResponse || out.FollowUpAt == nil {
		t.Fatalf("expected a far-future follow-up, got %s", lead.Status)
	}
	if got := out.FollowUpAt.Sub(now); got != 90*24*time.Hour {
		t.Errorf("expected 90 days, got %s", got)
	}

	lead = fixFlipLead(model.LeadContacted)
	out, _ = engine.HandleInbound(context.Background(), lead, nil, "no thanks, not interested", now)
	if lead.Status != model.LeadNotInterested || out.Reply == "" {
		t.Errorf("expected not_interested with a closing reply, got %s %q", lead.Status, out.Reply)
	}
}

func TestObjectionDoesNotAdvance(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadContacted)
	lead.QualificationData["occupancy"] = "vacant"

	out, err := engine.HandleInbound(context.Background(), lead, nil, "I'd rather list it with a realtor", now)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Intent != qualification.IntentObjection || out.StageIndex != 1 {
		t.Fatalf("expected objection at stage 1, got %s at %d", out.Intent, out.StageIndex)
	}
	if out.Reply == "" {
		t.Errorf("objection needs a reply")
	}
}

func TestInvalidTransitionLeavesLeadUnchanged(t *testing.T) {
	engine := newEngine(t, nil)
	lead := fixFlipLead(model.LeadNew)

	err := engine.Transition(lead, model.LeadAppointmentSet)
	var invalid *appErrors.InvalidStateTransition
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateTransition, got %v", err)
	}
	if lead.Status != model.LeadNew {
		t.Errorf("status changed to %s", lead.Status)
	}
}

func TestOutboundContent(t *testing.T) {
	engine := newEngine(t, nil)
	ctx := context.Background()

	lead := fixFlipLead(model.LeadNew)
	c, err := engine.Outbound(ctx, lead)
	if err != nil {
		t.Fatalf("outbound: %v", err)
	}
	if c.Kind != qualification.MessageInitial || c.AIGenerated {
		t.Errorf("unexpected content %+v", c)
	}
	if c.Text != "Hey Maria, I saw you might be the owner of 12 Oak St. Would you be open to a no-obligation cash offer for the property? Reply STOP to opt out." {
		t.Errorf("unexpected text %q", c.Text)
	}

	lead.Status = model.LeadWaitingResponse
	lead.QualificationData["occupancy"] = "vacant"
	c, _ = engine.Outbound(ctx, lead)
	if c.Text != "Hi Maria, just following up on 12 Oak St. How's the condition? Good shape, or does it need work?" {
		t.Errorf("expected the pending question, got %q", c.Text)
	}
}
