package inbound_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	"github.com/unclebandit/leadreach-backend/internal/channel"
	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/inbound"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/repository"
	"github.com/unclebandit/leadreach-backend/internal/repository/memory"
)

// Tuesday 09:00 in New York.
var morning = time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)

type MockTransport struct {
	mu      sync.Mutex
	channel model.Channel
	sent    []channel.Envelope
	fail    error
}

func (m *MockTransport) Channel() model.Channel { return m.channel }

func (m *MockTransport) Send(_ context.Context, env channel.Envelope) (channel.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return channel.Receipt{}, m.fail
	}
	m.sent = append(m.sent, env)
	return channel.Receipt{ProviderMessageID: "out-" + env.To}, nil
}

func (m *MockTransport) Last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Body
}

func (m *MockTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type harness struct {
	repos      repository.Repositories
	dispatcher *inbound.Dispatcher
	sms        *MockTransport
	campaign   *model.Campaign
	lead       *model.Lead
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	flows, err := qualification.DefaultFlows()
	if err != nil {
		t.Fatalf("flows: %v", err)
	}
	h := &harness{
		repos: memory.New(),
		sms:   &MockTransport{channel: model.ChannelSMS},
		now:   morning,
	}
	engine := qualification.NewEngine(flows, nil, nil, qualification.DefaultSettings())
	config := model.CampaignConfig{
		MaxDailyContacts:     10,
		FollowUpOffsets:      []int{1, 3, 7},
		QuietHoursStart:      "21:00",
		QuietHoursEnd:        "08:00",
		Timezone:             "America/New_York",
		ResponseTimeoutHours: 24,
	}
	h.campaign = &model.Campaign{
		Name:         "Fix and flip",
		PropertyType: model.PropertyFixFlip,
		Status:       model.CampaignActive,
		Config:       config,
	}
	if err := h.repos.Campaigns.Create(ctx, h.campaign); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	h.lead = &model.Lead{
		FirstName:       "Joan",
		Phone:           "+15125550100",
		PropertyAddress: "12 Elm St",
		Timezone:        "America/New_York",
		PropertyType:    model.PropertyFixFlip,
		Status:          model.LeadContacted,
	}
	if err := h.repos.Leads.Create(ctx, h.lead); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if err := h.repos.Leads.AssignCampaign(ctx, h.lead.ID, h.campaign.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	router := channel.NewRouter(h.sms, nil, h.repos.Conversations, channel.RetryPolicy{MaxAttempts: 1})
	router.Now = func() time.Time { return h.now }
	calendar := booking.NewOfficeHoursCalendar(15*time.Minute, "https://meet.example.com")
	coordinator := booking.NewCoordinator(calendar, engine, h.repos, booking.DefaultOptions())

	h.dispatcher = inbound.NewDispatcher(h.repos, engine, coordinator, router, compliance.NewGate(), config, time.Minute)
	h.dispatcher.Clock = func() time.Time { return h.now }
	return h
}

func (h *harness) reply(t *testing.T, id, text string) *inbound.Result {
	t.Helper()
	res, err := h.dispatcher.Handle(context.Background(), &inbound.Event{
		Kind:              inbound.EventMessage,
		Channel:           model.ChannelSMS,
		ProviderMessageID: id,
		From:              "(512) 555-0100",
		Text:              text,
	})
	if err != nil {
		t.Fatalf("handle %s: %v", id, err)
	}
	return res
}

func (h *harness) reload(t *testing.T) *model.Lead {
	t.Helper()
	l, err := h.repos.Leads.GetByID(context.Background(), h.lead.ID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	return l
}

func TestQualifyingReplyGetsSlotsThenBooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.reply(t, "in-1", "It's vacant and needs work, the roof leaks. Want to sell asap since I inherited it.")
	if !res.Replied {
		t.Fatalf("expected a reply, denied=%q", res.ReplyDenied)
	}
	if !strings.Contains(h.sms.Last(), "Tue Mar 3 at 2:00 PM") {
		t.Errorf("expected the slot offer, got %q", h.sms.Last())
	}
	lead := h.reload(t)
	if lead.Status != model.LeadQualified || len(lead.OfferedSlots) == 0 {
		t.Fatalf("expected qualified lead with offered slots, got %s %v", lead.Status, lead.OfferedSlots)
	}

	res = h.reply(t, "in-2", "2pm works")
	if res.Booking != booking.Confirmed || res.Appointment == nil {
		t.Fatalf("expected a booking, got %q", res.Booking)
	}
	if !strings.Contains(h.sms.Last(), "https://meet.example.com/") {
		t.Errorf("expected the video link in the confirmation, got %q", h.sms.Last())
	}
	lead = h.reload(t)
	if lead.Status != model.LeadAppointmentSet || lead.NextFollowUpAt != nil {
		t.Errorf("expected appointment_set with no follow-up, got %s %v", lead.Status, lead.NextFollowUpAt)
	}

	c, _ := h.repos.Campaigns.GetByID(ctx, h.campaign.ID)
	if c.Stats.Responded != 1 || c.Stats.Qualified != 1 || c.Stats.Appointments != 1 {
		t.Errorf("unexpected stats %+v", c.Stats)
	}
	conv, _ := h.repos.Conversations.GetByLeadID(ctx, h.lead.ID)
	if len(conv.Messages) != 4 {
		t.Errorf("expected 4 messages in the thread, got %d", len(conv.Messages))
	}
	if conv.Status != model.LeadAppointmentSet {
		t.Errorf("conversation status not synced: %s", conv.Status)
	}
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	h := newHarness(t)

	h.reply(t, "in-1", "Yes I still own it")
	sent := h.sms.Count()
	before := h.reload(t)

	res := h.reply(t, "in-1", "Yes I still own it")
	if !res.Duplicate {
		t.Errorf("expected duplicate to be detected")
	}
	if h.sms.Count() != sent {
		t.Errorf("duplicate triggered another send")
	}
	after := h.reload(t)
	if after.Status != before.Status || after.UnparseableStreak != before.UnparseableStreak {
		t.Errorf("duplicate changed the lead: %+v -> %+v", before, after)
	}
}

func TestStopReplyOptsOutSilently(t *testing.T) {
	h := newHarness(t)

	res := h.reply(t, "in-1", "STOP")
	if res.Replied || h.sms.Count() != 0 {
		t.Errorf("opt-out must not be answered")
	}
	lead := h.reload(t)
	if lead.Status != model.LeadOptedOut || lead.NextFollowUpAt != nil {
		t.Errorf("expected opted_out with nothing scheduled, got %s", lead.Status)
	}
	c, _ := h.repos.Campaigns.GetByID(context.Background(), h.campaign.ID)
	if c.Stats.OptedOut != 1 || c.Stats.Responded != 0 {
		t.Errorf("unexpected stats %+v", c.Stats)
	}
}

func TestReplyDuringQuietHoursIsDeferred(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC) // 22:00 New York

	res := h.reply(t, "in-1", "Yes I still own it")
	if res.ReplyDenied != compliance.ReasonQuietHours || h.sms.Count() != 0 {
		t.Fatalf("expected quiet hours deny, got %q with %d sends", res.ReplyDenied, h.sms.Count())
	}
	lead := h.reload(t)
	if lead.Status != model.LeadWaitingResponse {
		t.Errorf("expected waiting_response, got %s", lead.Status)
	}
	if lead.NextFollowUpAt == nil || !lead.NextFollowUpAt.Equal(h.now) {
		t.Errorf("expected the lead to be due immediately, got %v", lead.NextFollowUpAt)
	}
}

func TestUnknownSenderIsIgnored(t *testing.T) {
	h := newHarness(t)
	res, err := h.dispatcher.Handle(context.Background(), &inbound.Event{
		Kind:              inbound.EventMessage,
		Channel:           model.ChannelSMS,
		ProviderMessageID: "in-9",
		From:              "+15125559999",
		Text:              "who is this",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.Unmatched || h.sms.Count() != 0 {
		t.Errorf("expected unmatched sender to be dropped")
	}
}

func TestDeliveryReceiptUpdatesMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.reply(t, "in-1", "Yes I still own it")

	_, err := h.dispatcher.Handle(ctx, &inbound.Event{
		Kind:              inbound.EventDelivery,
		Channel:           model.ChannelSMS,
		ProviderMessageID: "out-+15125550100",
		Status:            model.DeliveryFailed,
		Error:             "carrier rejected",
	})
	if err != nil {
		t.Fatalf("handle receipt: %v", err)
	}
	conv, _ := h.repos.Conversations.GetByLeadID(ctx, h.lead.ID)
	out := conv.Messages[len(conv.Messages)-1]
	if out.Direction != model.DirectionOutbound || out.DeliveryStatus != model.DeliveryFailed || out.LastError != "carrier rejected" {
		t.Errorf("receipt not applied: %+v", out)
	}
}

func TestTransientReplyFailureLeavesLeadDue(t *testing.T) {
	h := newHarness(t)
	h.sms.fail = appErrors.NewTransportTransient("sms", "rate_limited", errors.New("429"))

	res := h.reply(t, "in-1", "Yes I still own it")
	if res.Replied {
		t.Fatalf("reply should not count as sent")
	}
	lead := h.reload(t)
	if lead.Status != model.LeadWaitingResponse {
		t.Errorf("expected waiting_response, got %s", lead.Status)
	}
	if !lead.IsDue(h.now) {
		t.Errorf("lead should be due for the next run, next=%v", lead.NextFollowUpAt)
	}
	if lead.ManualReview {
		t.Errorf("a transient failure must not flag the lead for review")
	}
}

func TestPermanentReplyFailureFlagsReview(t *testing.T) {
	h := newHarness(t)
	h.sms.fail = appErrors.NewTransportPermanent("sms", "invalid_number", errors.New("400"))

	h.reply(t, "in-1", "Yes I still own it")
	lead := h.reload(t)
	if !lead.ManualReview || lead.ReviewReason == "" {
		t.Errorf("expected manual review after a permanent failure, got %+v", lead)
	}
}

// MockFlakyLeads fails the next n updates.
type MockFlakyLeads struct {
	repository.LeadRepositoryInterface
	mu       sync.Mutex
	failures int
}

func (m *MockFlakyLeads) Update(ctx context.Context, l *model.Lead) error {
	m.mu.Lock()
	if m.failures > 0 {
		m.failures--
		m.mu.Unlock()
		return errors.New("db: connection reset")
	}
	m.mu.Unlock()
	return m.LeadRepositoryInterface.Update(ctx, l)
}

func TestRedeliveryAfterFailedSaveAppliesReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dispatcher.Leads = &MockFlakyLeads{LeadRepositoryInterface: h.repos.Leads, failures: 1}
	ev := &inbound.Event{
		Kind:              inbound.EventMessage,
		Channel:           model.ChannelSMS,
		ProviderMessageID: "in-1",
		From:              "(512) 555-0100",
		Text:              "Yes I still own it",
	}

	if _, err := h.dispatcher.Handle(ctx, ev); err == nil {
		t.Fatal("expected the failed save to surface so the event is retried")
	}
	if h.sms.Count() != 0 {
		t.Fatalf("nothing may be sent before the lead is saved, got %d sends", h.sms.Count())
	}

	res, err := h.dispatcher.Handle(ctx, ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("redelivery of an unapplied event must not be treated as a duplicate")
	}
	if !res.Replied || h.sms.Count() != 1 {
		t.Errorf("expected exactly one reply, got replied=%v sends=%d", res.Replied, h.sms.Count())
	}
	lead := h.reload(t)
	if lead.Status == model.LeadContacted {
		t.Errorf("reply was lost, lead still %s", lead.Status)
	}

	conv, _ := h.repos.Conversations.GetByLeadID(ctx, h.lead.ID)
	received := 0
	for _, m := range conv.Messages {
		if m.Direction == model.DirectionInbound {
			received++
		}
	}
	if received != 1 {
		t.Errorf("expected the inbound message stored once, got %d", received)
	}
}

// MockEmptyCalendar has no free time.
type MockEmptyCalendar struct{}

func (MockEmptyCalendar) FreeSlots(context.Context, time.Time, time.Time, *time.Location) ([]booking.Slot, error) {
	return nil, nil
}

func (MockEmptyCalendar) CreateEvent(context.Context, booking.EventRequest) (booking.Event, error) {
	return booking.Event{}, booking.ErrSlotTaken
}

func (MockEmptyCalendar) CancelEvent(context.Context, string) error { return nil }

func TestQualifiedLeadWithoutSlotsIsRetried(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Booking = booking.NewCoordinator(MockEmptyCalendar{}, h.dispatcher.Engine, h.repos, booking.DefaultOptions())

	res := h.reply(t, "in-1", "It's vacant and needs work, the roof leaks. Want to sell asap since I inherited it.")
	if res.Replied || h.sms.Count() != 0 {
		t.Errorf("no offer can be sent without slots")
	}
	lead := h.reload(t)
	if lead.Status != model.LeadQualified {
		t.Fatalf("expected qualified, got %s", lead.Status)
	}
	want := h.now.Add(time.Hour)
	if lead.NextFollowUpAt == nil || !lead.NextFollowUpAt.Equal(want) {
		t.Errorf("expected a slot offer retry at %s, got %v", want, lead.NextFollowUpAt)
	}
	if !lead.IsDue(want) {
		t.Errorf("lead should be due once the retry delay passes")
	}
}
