package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/leadreach-backend/internal/channel"
	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

// ConversationService serves threads and operator messages. Manual sends go
// through the same lock, gate and router as automated outreach.
type ConversationService struct {
	LeadRepo         repository.LeadRepositoryInterface
	CampaignRepo     repository.CampaignRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
	Locks            repository.LockRepositoryInterface
	Router           *channel.Router
	Gate             *compliance.Gate
	Defaults         model.CampaignConfig
	LockTTL          time.Duration
	Clock            func() time.Time
}

func (s *ConversationService) GetConversation(ctx context.Context, id int) (*model.Conversation, error) {
	return s.ConversationRepo.GetByID(ctx, id)
}

func (s *ConversationService) SendManual(ctx context.Context, leadID int, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, appErrors.NewValidation("content", "is required")
	}
	now := s.now()

	owner := "manual-" + uuid.NewString()
	ok, err := s.Locks.Acquire(ctx, leadID, owner, s.LockTTL, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewLockContention(leadID)
	}
	defer func() {
		if err := s.Locks.Release(context.WithoutCancel(ctx), leadID, owner); err != nil {
			log.Printf("⚠️ release lock for lead %d: %v", leadID, err)
		}
	}()

	lead, err := s.LeadRepo.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	campaign := s.Defaults.Standalone()
	if lead.CampaignID != nil {
		if campaign, err = s.CampaignRepo.GetByID(ctx, *lead.CampaignID); err != nil {
			return nil, err
		}
	}
	if decision := s.Gate.Evaluate(lead, campaign, now); !decision.Allowed {
		log.Printf("⏸️ manual send to lead %d denied: %s", lead.ID, decision.Reason)
		return nil, s.Gate.Err(decision)
	}

	conv, err := s.ConversationRepo.GetOrCreateForLead(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	delivery, err := s.Router.Send(ctx, lead, conv.ID, text, false)
	if err != nil {
		return nil, err
	}
	if !delivery.Delivered {
		return delivery.Message, fmt.Errorf("manual send to lead %d: %w", lead.ID, delivery.Err)
	}

	loc, _ := lead.Location(campaign.Config.Timezone)
	lead.RecordContact(compliance.LocalDay(now, loc), now)
	if err := s.LeadRepo.Update(ctx, lead); err != nil {
		return nil, err
	}
	log.Printf("✅ Manual message sent to lead %d via %s", lead.ID, delivery.Channel)
	return delivery.Message, nil
}

func (s *ConversationService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
