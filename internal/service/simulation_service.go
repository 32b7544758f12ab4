package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	"github.com/unclebandit/leadreach-backend/internal/channel"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/inbound"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/repository/memory"
)

const simulatedPhone = "+15125550100"

// SimulationService replays a scripted conversation through the production
// engine, booking coordinator and dispatcher against a throwaway store. No
// provider is called and no real counter moves.
type SimulationService struct {
	Engine          *qualification.Engine
	Booking         booking.Options
	MeetingDuration time.Duration
	VideoLinkBase   string
	Defaults        model.CampaignConfig
	Clock           func() time.Time
}

type SimulationRequest struct {
	FirstName         string             `json:"first_name"`
	PropertyAddress   string             `json:"property_address"`
	PropertyType      model.PropertyType `json:"property_type"`
	Timezone          string             `json:"timezone"`
	QualificationData map[string]string  `json:"qualification_data,omitempty"`
	Messages          []string           `json:"messages"`
}

type SimulationTurn struct {
	Inbound     string                   `json:"inbound"`
	Reply       string                   `json:"reply,omitempty"`
	AIGenerated bool                     `json:"ai_generated"`
	Intent      qualification.Intent     `json:"intent,omitempty"`
	Status      model.LeadStatus         `json:"status"`
	StageIndex  int                      `json:"stage_index"`
	Escalated   bool                     `json:"escalated"`
	Booking     booking.ConfirmationKind `json:"booking,omitempty"`
	Appointment *model.Appointment       `json:"appointment,omitempty"`
}

type SimulationResult struct {
	SimulationID   string           `json:"simulation_id"`
	InitialMessage string           `json:"initial_message"`
	Turns          []SimulationTurn `json:"turns"`
	Lead           *model.Lead      `json:"lead"`
}

// recordingTransport accepts every message and keeps it.
type recordingTransport struct {
	mu   sync.Mutex
	sent []channel.Envelope
}

func (t *recordingTransport) Channel() model.Channel { return model.ChannelSMS }

func (t *recordingTransport) Send(_ context.Context, env channel.Envelope) (channel.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return channel.Receipt{ProviderMessageID: fmt.Sprintf("sim-out-%d", len(t.sent))}, nil
}

func (s *SimulationService) Simulate(ctx context.Context, req SimulationRequest) (*SimulationResult, error) {
	if !req.PropertyType.Valid() {
		return nil, appErrors.NewValidation("property_type", "must be fix_flip, rental or vacant_land")
	}
	if len(req.Messages) == 0 {
		return nil, appErrors.NewValidation("messages", "at least one message is required")
	}
	now := time.Now()
	if s.Clock != nil {
		now = s.Clock()
	}
	clock := func() time.Time { return now }

	repos := memory.New()
	transport := &recordingTransport{}
	router := channel.NewRouter(transport, nil, repos.Conversations, channel.RetryPolicy{MaxAttempts: 1})
	router.Now = clock
	calendar := booking.NewOfficeHoursCalendar(s.MeetingDuration, s.VideoLinkBase)
	coordinator := booking.NewCoordinator(calendar, s.Engine, repos, s.Booking)
	dispatcher := inbound.NewDispatcher(repos, s.Engine, coordinator, router, nil, s.Defaults, time.Minute)
	dispatcher.Clock = clock

	lead := &model.Lead{
		FirstName:         orDefault(req.FirstName, "Alex"),
		PropertyAddress:   orDefault(req.PropertyAddress, "123 Main St"),
		PropertyType:      req.PropertyType,
		Timezone:          orDefault(req.Timezone, s.Defaults.Timezone),
		Phone:             simulatedPhone,
		Status:            model.LeadNew,
		QualificationData: map[string]string{},
	}
	for k, v := range req.QualificationData {
		lead.QualificationData[k] = v
	}
	if err := repos.Leads.Create(ctx, lead); err != nil {
		return nil, err
	}

	content, err := s.Engine.Outbound(ctx, lead)
	if err != nil {
		return nil, err
	}
	conv, err := repos.Conversations.GetOrCreateForLead(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	if _, err := router.Send(ctx, lead, conv.ID, content.Text, content.AIGenerated); err != nil {
		return nil, err
	}
	if err := s.Engine.Transition(lead, model.LeadContacted); err != nil {
		return nil, err
	}
	if err := repos.Leads.Update(ctx, lead); err != nil {
		return nil, err
	}

	result := &SimulationResult{
		SimulationID:   uuid.NewString(),
		InitialMessage: content.Text,
		Turns:          make([]SimulationTurn, 0, len(req.Messages)),
	}
	for i, text := range req.Messages {
		res, err := dispatcher.Handle(ctx, &inbound.Event{
			Kind:              inbound.EventMessage,
			Channel:           model.ChannelSMS,
			ProviderMessageID: fmt.Sprintf("sim-in-%d", i+1),
			From:              simulatedPhone,
			Text:              text,
			OccurredAt:        now,
		})
		if err != nil {
			return nil, fmt.Errorf("simulate message %d: %w", i+1, err)
		}
		turn := SimulationTurn{
			Inbound:     text,
			Reply:       res.Reply,
			Booking:     res.Booking,
			Appointment: res.Appointment,
		}
		if o := res.Outcome; o != nil {
			turn.AIGenerated = o.AIGenerated
			turn.Intent = o.Intent
			turn.StageIndex = o.StageIndex
			turn.Escalated = o.Escalated
		}
		current, err := repos.Leads.GetByID(ctx, lead.ID)
		if err != nil {
			return nil, err
		}
		turn.Status = current.Status
		result.Turns = append(result.Turns, turn)
	}

	if result.Lead, err = repos.Leads.GetByID(ctx, lead.ID); err != nil {
		return nil, err
	}
	return result, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
