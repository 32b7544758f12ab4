package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/channel"
	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/repository"
	"github.com/unclebandit/leadreach-backend/internal/repository/memory"
	"github.com/unclebandit/leadreach-backend/internal/service"
)

var defaults = model.CampaignConfig{
	MaxDailyContacts:     50,
	FollowUpOffsets:      []int{1, 3, 7, 14},
	QuietHoursStart:      "21:00",
	QuietHoursEnd:        "08:00",
	Timezone:             "America/New_York",
	ResponseTimeoutHours: 48,
}

func newCampaignService(repos repository.Repositories) *service.CampaignService {
	return &service.CampaignService{
		CampaignRepo: repos.Campaigns,
		LeadRepo:     repos.Leads,
		Defaults:     defaults,
	}
}

func TestCreateCampaignAppliesDefaults(t *testing.T) {
	svc := newCampaignService(memory.New())
	ctx := context.Background()

	c, err := svc.CreateCampaign(ctx, service.CampaignInput{
		Name:         "Land buyers",
		PropertyType: model.PropertyVacantLand,
		Config:       &model.CampaignConfig{MaxDailyContacts: 5},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != model.CampaignCreated {
		t.Errorf("expected created, got %s", c.Status)
	}
	if c.Config.MaxDailyContacts != 5 || c.Config.QuietHoursStart != "21:00" || len(c.Config.FollowUpOffsets) != 4 {
		t.Errorf("defaults not merged: %+v", c.Config)
	}

	_, err = svc.CreateCampaign(ctx, service.CampaignInput{
		Name:         "Bad hours",
		PropertyType: model.PropertyRental,
		Config:       &model.CampaignConfig{QuietHoursStart: "25:00"},
	})
	var verr *appErrors.ErrValidation
	if !errors.As(err, &verr) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := svc.CreateCampaign(ctx, service.CampaignInput{Name: "x", PropertyType: "condo"}); !errors.As(err, &verr) {
		t.Errorf("expected property type validation error, got %v", err)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	svc := newCampaignService(memory.New())
	ctx := context.Background()
	c, _ := svc.CreateCampaign(ctx, service.CampaignInput{Name: "Flips", PropertyType: model.PropertyFixFlip})

	steps := []struct {
		action string
		want   model.CampaignStatus
		ok     bool
	}{
		{"pause", "", false},
		{"start", model.CampaignActive, true},
		{"pause", model.CampaignPaused, true},
		{"start", model.CampaignActive, true},
		{"stop", model.CampaignStopped, true},
		{"start", "", false},
		{"complete", "", false},
	}
	for _, step := range steps {
		got, err := svc.ChangeStatus(ctx, c.ID, step.action)
		if !step.ok {
			var ist *appErrors.InvalidStateTransition
			if !errors.As(err, &ist) {
				t.Errorf("%s: expected invalid transition, got %v", step.action, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
		if got.Status != step.want {
			t.Errorf("%s: expected %s, got %s", step.action, step.want, got.Status)
		}
	}

	if _, err := svc.ChangeStatus(ctx, c.ID, "archive"); err == nil {
		t.Errorf("expected unknown action to fail")
	}
	if _, err := svc.UpdateCampaign(ctx, c.ID, service.CampaignInput{Name: "renamed"}); err == nil {
		t.Errorf("stopped campaigns must be read-only")
	}
	if _, err := svc.ChangeStatus(ctx, 999, "start"); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAssignLeads(t *testing.T) {
	repos := memory.New()
	svc := newCampaignService(repos)
	ctx := context.Background()
	flips, _ := svc.CreateCampaign(ctx, service.CampaignInput{Name: "Flips", PropertyType: model.PropertyFixFlip})
	other, _ := svc.CreateCampaign(ctx, service.CampaignInput{Name: "More flips", PropertyType: model.PropertyFixFlip})

	free := &model.Lead{FirstName: "Ana", PropertyType: model.PropertyFixFlip, Status: model.LeadNew}
	taken := &model.Lead{FirstName: "Ben", PropertyType: model.PropertyFixFlip, Status: model.LeadNew}
	rental := &model.Lead{FirstName: "Cy", PropertyType: model.PropertyRental, Status: model.LeadNew}
	for _, l := range []*model.Lead{free, taken, rental} {
		_ = repos.Leads.Create(ctx, l)
	}
	_ = repos.Leads.AssignCampaign(ctx, taken.ID, other.ID)

	res, err := svc.AssignLeads(ctx, flips.ID, []int{free.ID, taken.ID, rental.ID, 404})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(res.Assigned) != 1 || res.Assigned[0] != free.ID {
		t.Errorf("unexpected assigned %v", res.Assigned)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0] != taken.ID {
		t.Errorf("unexpected conflicts %v", res.Conflicts)
	}
	if len(res.Mismatched) != 1 || len(res.Missing) != 1 {
		t.Errorf("unexpected mismatched %v missing %v", res.Mismatched, res.Missing)
	}

	l, _ := repos.Leads.GetByID(ctx, taken.ID)
	if *l.CampaignID != other.ID {
		t.Errorf("conflicting lead was moved to campaign %d", *l.CampaignID)
	}
}

func TestExecuteRejectedUnlessActive(t *testing.T) {
	repos := memory.New()
	svc := newCampaignService(repos)
	ctx := context.Background()
	c, _ := svc.CreateCampaign(ctx, service.CampaignInput{Name: "Flips", PropertyType: model.PropertyFixFlip})

	err := svc.EnqueueExecution(ctx, c.ID)
	if err == nil {
		t.Fatalf("expected an error without a queue")
	}

	view, err := svc.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != model.CampaignCreated || view.DailyLimit != defaults.MaxDailyContacts || view.Execution != nil {
		t.Errorf("unexpected status view %+v", view)
	}
}

func TestStatusReportsResponseRate(t *testing.T) {
	repos := memory.New()
	svc := newCampaignService(repos)
	ctx := context.Background()
	cfg := defaults
	cfg.TargetResponseRate = 0.5
	c, err := svc.CreateCampaign(ctx, service.CampaignInput{Name: "Flips", PropertyType: model.PropertyFixFlip, Config: &cfg})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := svc.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.ResponseRate != 0 || view.BelowTarget {
		t.Errorf("empty campaign should have no rate, got %+v", view)
	}

	_ = repos.Campaigns.IncrementStat(ctx, c.ID, model.StatContacted, 4)
	_ = repos.Campaigns.IncrementStat(ctx, c.ID, model.StatResponded, 1)
	view, err = svc.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.ResponseRate != 0.25 || view.TargetResponseRate != 0.5 || !view.BelowTarget {
		t.Errorf("unexpected rate view %+v", view)
	}

	_ = repos.Campaigns.IncrementStat(ctx, c.ID, model.StatResponded, 2)
	view, _ = svc.Status(ctx, c.ID)
	if view.ResponseRate != 0.75 || view.BelowTarget {
		t.Errorf("expected target met, got %+v", view)
	}
}

func TestDeleteLeadOnlyWhileNew(t *testing.T) {
	repos := memory.New()
	svc := &service.LeadService{LeadRepo: repos.Leads, ConversationRepo: repos.Conversations}
	ctx := context.Background()

	fresh, err := svc.CreateLead(ctx, service.LeadInput{
		FirstName:    "Dee",
		Phone:        "(512) 555-0101",
		Email:        "Dee@Example.com",
		PropertyType: model.PropertyRental,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if fresh.Phone != "+15125550101" || fresh.Email != "dee@example.com" {
		t.Errorf("contact details not normalized: %s %s", fresh.Phone, fresh.Email)
	}

	contacted, _ := svc.CreateLead(ctx, service.LeadInput{FirstName: "Eve", Phone: "+15125550102", PropertyType: model.PropertyRental})
	contacted.Status = model.LeadContacted
	_ = repos.Leads.Update(ctx, contacted)

	if err := svc.DeleteLead(ctx, contacted.ID); err == nil {
		t.Errorf("contacted lead must not be deleted")
	}
	if err := svc.DeleteLead(ctx, fresh.ID); err != nil {
		t.Errorf("delete new lead: %v", err)
	}
	if _, err := svc.GetLead(ctx, fresh.ID); !appErrors.IsNotFound(err) {
		t.Errorf("expected deleted lead to be gone, got %v", err)
	}

	if _, err := svc.CreateLead(ctx, service.LeadInput{FirstName: "Nope", Phone: "12", PropertyType: model.PropertyRental}); err == nil {
		t.Errorf("expected invalid phone to be rejected")
	}
	if _, err := svc.CreateLead(ctx, service.LeadInput{FirstName: "Nope", PropertyType: model.PropertyRental}); err == nil {
		t.Errorf("expected a lead without contact details to be rejected")
	}
}

type MockTransport struct {
	sent []channel.Envelope
}

func (m *MockTransport) Channel() model.Channel { return model.ChannelSMS }

func (m *MockTransport) Send(_ context.Context, env channel.Envelope) (channel.Receipt, error) {
	m.sent = append(m.sent, env)
	return channel.Receipt{ProviderMessageID: "manual-1"}, nil
}

func TestManualSendIsGated(t *testing.T) {
	repos := memory.New()
	ctx := context.Background()
	sms := &MockTransport{}
	now := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC) // 10:00 New York
	router := channel.NewRouter(sms, nil, repos.Conversations, channel.RetryPolicy{MaxAttempts: 1})
	svc := &service.ConversationService{
		LeadRepo:         repos.Leads,
		CampaignRepo:     repos.Campaigns,
		ConversationRepo: repos.Conversations,
		Locks:            repos.Locks,
		Router:           router,
		Gate:             compliance.NewGate(),
		Defaults:         defaults,
		LockTTL:          time.Minute,
		Clock:            func() time.Time { return now },
	}

	lead := &model.Lead{FirstName: "Flo", Phone: "+15125550103", PropertyType: model.PropertyFixFlip, Status: model.LeadResponded}
	_ = repos.Leads.Create(ctx, lead)

	msg, err := svc.SendManual(ctx, lead.ID, "Hi Flo, quick question about the roof.")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Direction != model.DirectionOutbound || len(sms.sent) != 1 {
		t.Errorf("expected one outbound message, got %+v", msg)
	}
	got, _ := repos.Leads.GetByID(ctx, lead.ID)
	if got.ContactCountToday != 1 {
		t.Errorf("expected the contact to count, got %d", got.ContactCountToday)
	}

	now = time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC) // 22:00 New York
	_, err = svc.SendManual(ctx, lead.ID, "Are you there?")
	var denied *appErrors.ComplianceDenied
	if !errors.As(err, &denied) || denied.Reason != compliance.ReasonQuietHours {
		t.Errorf("expected quiet hours deny, got %v", err)
	}
	if len(sms.sent) != 1 {
		t.Errorf("denied message was sent")
	}
}
