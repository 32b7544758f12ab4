package service

import (
	"context"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/channel"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

type LeadService struct {
	LeadRepo         repository.LeadRepositoryInterface
	ConversationRepo repository.ConversationRepositoryInterface
}

type LeadInput struct {
	FirstName       string             `json:"first_name"`
	LastName        string             `json:"last_name"`
	Phone           string             `json:"phone"`
	Email           string             `json:"email"`
	PropertyAddress string             `json:"property_address"`
	Timezone        string             `json:"timezone"`
	PropertyType    model.PropertyType `json:"property_type"`
}

func (s *LeadService) CreateLead(ctx context.Context, in LeadInput) (*model.Lead, error) {
	lead := &model.Lead{
		Status:            model.LeadNew,
		QualificationData: map[string]string{},
	}
	if err := applyLeadInput(lead, in, true); err != nil {
		return nil, err
	}
	if err := s.LeadRepo.Create(ctx, lead); err != nil {
		return nil, err
	}
	log.Printf("✅ Lead %d created", lead.ID)
	return lead, nil
}

func (s *LeadService) GetLead(ctx context.Context, id int) (*model.Lead, error) {
	return s.LeadRepo.GetByID(ctx, id)
}

// UpdateLead edits contact details. The property type is fixed once the
// lead has been contacted, since it selects the qualification flow.
func (s *LeadService) UpdateLead(ctx context.Context, id int, in LeadInput) (*model.Lead, error) {
	lead, err := s.LeadRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.PropertyType != "" && in.PropertyType != lead.PropertyType && lead.Status != model.LeadNew {
		return nil, appErrors.NewInvalidStateTransition("lead", string(lead.Status), "change property type")
	}
	if err := applyLeadInput(lead, in, false); err != nil {
		return nil, err
	}
	if err := s.LeadRepo.Update(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// DeleteLead removes a lead that was never contacted. Contacted leads keep
// their conversation history.
func (s *LeadService) DeleteLead(ctx context.Context, id int) error {
	lead, err := s.LeadRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if lead.Status != model.LeadNew || lead.LastContactAt != nil {
		return appErrors.NewInvalidStateTransition("lead", string(lead.Status), "delete")
	}
	return s.LeadRepo.Delete(ctx, id)
}

func (s *LeadService) ListLeads(ctx context.Context, filter model.LeadFilter, page, pageSize int) ([]model.Lead, map[string]int, error) {
	page, pageSize, offset := paginate(page, pageSize)
	ptrs, total, err := s.LeadRepo.List(ctx, filter, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}
	leads := make([]model.Lead, len(ptrs))
	for i, l := range ptrs {
		leads[i] = *l
	}
	return leads, pagination(page, pageSize, total), nil
}

func (s *LeadService) Conversation(ctx context.Context, leadID int) (*model.Conversation, error) {
	if _, err := s.LeadRepo.GetByID(ctx, leadID); err != nil {
		return nil, err
	}
	return s.ConversationRepo.GetByLeadID(ctx, leadID)
}

// applyLeadInput copies non-empty fields onto lead. On create every
// required field must be present.
func applyLeadInput(lead *model.Lead, in LeadInput, create bool) error {
	if v := strings.TrimSpace(in.FirstName); v != "" {
		lead.FirstName = v
	}
	if v := strings.TrimSpace(in.LastName); v != "" {
		lead.LastName = v
	}
	if v := strings.TrimSpace(in.PropertyAddress); v != "" {
		lead.PropertyAddress = v
	}
	if in.Phone != "" {
		phone, ok := channel.NormalizePhone(in.Phone)
		if !ok {
			return appErrors.NewValidation("phone", "not a valid phone number")
		}
		lead.Phone = phone
	}
	if in.Email != "" {
		addr, err := mail.ParseAddress(in.Email)
		if err != nil {
			return appErrors.NewValidation("email", "not a valid address")
		}
		lead.Email = strings.ToLower(addr.Address)
	}
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return appErrors.NewValidation("timezone", "unknown timezone "+tz)
		}
		lead.Timezone = tz
	}
	if in.PropertyType != "" {
		if !in.PropertyType.Valid() {
			return appErrors.NewValidation("property_type", "must be fix_flip, rental or vacant_land")
		}
		lead.PropertyType = in.PropertyType
	}

	if !create {
		return nil
	}
	if lead.FirstName == "" {
		return appErrors.NewValidation("first_name", "is required")
	}
	if lead.Phone == "" && lead.Email == "" {
		return appErrors.NewValidation("contact", "phone or email is required")
	}
	if lead.PropertyType == "" {
		return appErrors.NewValidation("property_type", "is required")
	}
	return nil
}
