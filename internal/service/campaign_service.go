// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/queue"
	"github.com/unclebandit/leadreach-backend/internal/repository"
	"github.com/unclebandit/leadreach-backend/internal/scheduler"
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	Scheduler    *scheduler.Scheduler
	Queue        queue.Queue
	Defaults     model.CampaignConfig
}

type CampaignInput struct {
	Name         string                `json:"name"`
	PropertyType model.PropertyType    `json:"property_type"`
	Config       *model.CampaignConfig `json:"config,omitempty"`
}

// CampaignStatusView is the status action: live counters, today's usage of
// the daily cap, the response rate against its target and the latest
// execution pass.
type CampaignStatusView struct {
	CampaignID         int                  `json:"campaign_id"`
	Status             model.CampaignStatus `json:"status"`
	Stats              model.CampaignStats  `json:"stats"`
	ContactsToday      int                  `json:"contacts_today"`
	DailyLimit         int                  `json:"daily_limit"`
	ResponseRate       float64              `json:"response_rate"`
	TargetResponseRate float64              `json:"target_response_rate,omitempty"`
	BelowTarget        bool                 `json:"below_target"`
	Execution          *scheduler.Progress  `json:"execution,omitempty"`
}

type AssignResult struct {
	Assigned   []int `json:"assigned"`
	Conflicts  []int `json:"conflicts"`
	Missing    []int `json:"missing"`
	Mismatched []int `json:"mismatched"`
}

// Lifecycle actions accepted by ChangeStatus.
var campaignActions = map[string]model.CampaignStatus{
	"start":    model.CampaignActive,
	"pause":    model.CampaignPaused,
	"stop":     model.CampaignStopped,
	"complete": model.CampaignCompleted,
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		Name:         strings.TrimSpace(in.Name),
		PropertyType: in.PropertyType,
		Status:       model.CampaignCreated,
		Config:       s.withDefaults(in.Config),
	}
	if err := validateCampaign(c); err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	log.Printf("✅ Campaign %d created (%s)", c.ID, c.PropertyType)
	return c, nil
}

// UpdateCampaign replaces name and configuration. Closed campaigns are
// read-only; the property type never changes once leads may be attached.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, in CampaignInput) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignStopped || c.Status == model.CampaignCompleted {
		return nil, appErrors.NewInvalidStateTransition("campaign", string(c.Status), "update")
	}
	if in.PropertyType != "" && in.PropertyType != c.PropertyType {
		return nil, appErrors.NewValidation("property_type", "cannot be changed")
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		c.Name = name
	}
	if in.Config != nil {
		c.Config = s.withDefaults(in.Config)
	}
	if err := validateCampaign(c); err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, propertyType, status string) ([]model.Campaign, map[string]int, error) {
	page, pageSize, offset := paginate(page, pageSize)

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, propertyType, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, pagination(page, pageSize, total), nil
}

func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, id)
}

// ChangeStatus applies a lifecycle action (start, pause, stop, complete).
func (s *CampaignService) ChangeStatus(ctx context.Context, id int, action string) (*model.Campaign, error) {
	next, ok := campaignActions[action]
	if !ok {
		return nil, appErrors.NewValidation("action", "unknown campaign action "+action)
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(next) {
		return nil, appErrors.NewInvalidStateTransition("campaign", string(c.Status), string(next))
	}
	if next == model.CampaignActive {
		if err := c.Config.Validate(); err != nil {
			return nil, appErrors.NewValidation("config", err.Error())
		}
	}
	if err := s.CampaignRepo.UpdateStatus(ctx, id, next); err != nil {
		return nil, err
	}
	log.Printf("🚀 Campaign %d: %s -> %s", id, c.Status, next)
	c.Status = next
	return c, nil
}

// Execute runs one pass synchronously.
func (s *CampaignService) Execute(ctx context.Context, id int) (*scheduler.ExecutionResult, error) {
	if err := s.requireActive(ctx, id); err != nil {
		return nil, err
	}
	return s.Scheduler.Execute(ctx, id)
}

// EnqueueExecution hands the pass to a worker. The campaign must be active
// now; the worker checks again when it runs.
func (s *CampaignService) EnqueueExecution(ctx context.Context, id int) error {
	if s.Queue == nil {
		return errors.New("no queue configured")
	}
	if err := s.requireActive(ctx, id); err != nil {
		return err
	}
	return queue.EnqueueCampaign(ctx, s.Queue, id)
}

func (s *CampaignService) requireActive(ctx context.Context, id int) error {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignActive {
		return appErrors.NewInvalidStateTransition("campaign", string(c.Status), "execute")
	}
	return nil
}

func (s *CampaignService) Status(ctx context.Context, id int) (*CampaignStatusView, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	today, err := s.CampaignRepo.DailyContacts(ctx, id, c.Day(time.Now()))
	if err != nil {
		return nil, err
	}
	view := &CampaignStatusView{
		CampaignID:         c.ID,
		Status:             c.Status,
		Stats:              c.Stats,
		ContactsToday:      today,
		DailyLimit:         c.Config.MaxDailyContacts,
		ResponseRate:       responseRate(c.Stats),
		TargetResponseRate: c.Config.TargetResponseRate,
	}
	// A target is only judged once someone has been contacted.
	view.BelowTarget = view.TargetResponseRate > 0 && c.Stats.Contacted > 0 &&
		view.ResponseRate < view.TargetResponseRate
	if s.Scheduler != nil {
		if p, ok := s.Scheduler.Progress(id); ok {
			view.Execution = &p
		}
	}
	return view, nil
}

func responseRate(stats model.CampaignStats) float64 {
	if stats.Contacted == 0 {
		return 0
	}
	return float64(stats.Responded) / float64(stats.Contacted)
}

// AssignLeads attaches leads to the campaign. A lead already owned by
// another campaign is reported, not moved.
func (s *CampaignService) AssignLeads(ctx context.Context, campaignID int, leadIDs []int) (*AssignResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CampaignStopped || c.Status == model.CampaignCompleted {
		return nil, appErrors.NewInvalidStateTransition("campaign", string(c.Status), "assign")
	}

	res := &AssignResult{Assigned: []int{}, Conflicts: []int{}, Missing: []int{}, Mismatched: []int{}}
	for _, id := range leadIDs {
		lead, err := s.LeadRepo.GetByID(ctx, id)
		if appErrors.IsNotFound(err) {
			res.Missing = append(res.Missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if lead.PropertyType != c.PropertyType {
			res.Mismatched = append(res.Mismatched, id)
			continue
		}

		err = s.LeadRepo.AssignCampaign(ctx, id, campaignID)
		var conflict *appErrors.ErrCampaignConflict
		switch {
		case err == nil:
			res.Assigned = append(res.Assigned, id)
		case errors.As(err, &conflict):
			res.Conflicts = append(res.Conflicts, id)
		case appErrors.IsNotFound(err):
			res.Missing = append(res.Missing, id)
		default:
			return nil, err
		}
	}
	log.Printf("✅ Campaign %d: %d leads assigned, %d conflicts", campaignID, len(res.Assigned), len(res.Conflicts))
	return res, nil
}

// withDefaults fills unset fields from the configured defaults.
func (s *CampaignService) withDefaults(cfg *model.CampaignConfig) model.CampaignConfig {
	out := s.Defaults
	if cfg == nil {
		return out
	}
	if cfg.MaxDailyContacts != 0 {
		out.MaxDailyContacts = cfg.MaxDailyContacts
	}
	if cfg.FollowUpOffsets != nil {
		out.FollowUpOffsets = cfg.FollowUpOffsets
	}
	if cfg.QuietHoursStart != "" {
		out.QuietHoursStart = cfg.QuietHoursStart
	}
	if cfg.QuietHoursEnd != "" {
		out.QuietHoursEnd = cfg.QuietHoursEnd
	}
	if cfg.Timezone != "" {
		out.Timezone = cfg.Timezone
	}
	if cfg.TargetResponseRate != 0 {
		out.TargetResponseRate = cfg.TargetResponseRate
	}
	if cfg.ResponseTimeoutHours != 0 {
		out.ResponseTimeoutHours = cfg.ResponseTimeoutHours
	}
	if cfg.FutureInterestDays != 0 {
		out.FutureInterestDays = cfg.FutureInterestDays
	}
	return out
}

func validateCampaign(c *model.Campaign) error {
	if c.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if !c.PropertyType.Valid() {
		return appErrors.NewValidation("property_type", "must be fix_flip, rental or vacant_land")
	}
	if err := c.Config.Validate(); err != nil {
		return appErrors.NewValidation("config", err.Error())
	}
	return nil
}
