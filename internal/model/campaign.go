// internal/model/campaign.go
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignCreated   CampaignStatus = "created"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignStopped   CampaignStatus = "stopped"
	CampaignCompleted CampaignStatus = "completed"
)

// campaignTransitions lists the user-initiated lifecycle moves.
var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignCreated: {CampaignActive, CampaignStopped},
	CampaignActive:  {CampaignPaused, CampaignStopped, CampaignCompleted},
	CampaignPaused:  {CampaignActive, CampaignStopped, CampaignCompleted},
}

// CanTransition reports whether a campaign may move from s to next.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type CampaignConfig struct {
	MaxDailyContacts     int     `json:"max_daily_contacts"`
	FollowUpOffsets      []int   `json:"follow_up_offsets"`
	QuietHoursStart      string  `json:"quiet_hours_start"`
	QuietHoursEnd        string  `json:"quiet_hours_end"`
	Timezone             string  `json:"timezone"`
	TargetResponseRate   float64 `json:"target_response_rate"`
	ResponseTimeoutHours int     `json:"response_timeout_hours"`
	FutureInterestDays   int     `json:"future_interest_days"`
}

// Validate checks the invariants the scheduler and compliance gate rely on.
func (c CampaignConfig) Validate() error {
	if c.MaxDailyContacts <= 0 {
		return fmt.Errorf("max_daily_contacts must be greater than zero")
	}
	prev := 0
	for i, offset := range c.FollowUpOffsets {
		if offset < 0 {
			return fmt.Errorf("follow_up_offsets[%d] must not be negative", i)
		}
		if offset < prev {
			return fmt.Errorf("follow_up_offsets must be non-decreasing")
		}
		prev = offset
	}
	if _, err := ParseClock(c.QuietHoursStart); err != nil {
		return fmt.Errorf("quiet_hours_start: %w", err)
	}
	if _, err := ParseClock(c.QuietHoursEnd); err != nil {
		return fmt.Errorf("quiet_hours_end: %w", err)
	}
	if strings.TrimSpace(c.Timezone) != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if c.TargetResponseRate < 0 || c.TargetResponseRate > 1 {
		return fmt.Errorf("target_response_rate must be between 0 and 1")
	}
	if c.ResponseTimeoutHours < 0 || c.FutureInterestDays < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// FollowUpOffset returns the day offset for the given follow-up index.
// ok is false once the sequence is exhausted.
func (c CampaignConfig) FollowUpOffset(index int) (time.Duration, bool) {
	if index < 0 || index >= len(c.FollowUpOffsets) {
		return 0, false
	}
	return time.Duration(c.FollowUpOffsets[index]) * 24 * time.Hour, true
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour*60 + minute, nil
}

// CampaignStats is derived from lead activity and never used for gating.
type CampaignStats struct {
	Contacted    int `json:"contacted"`
	Responded    int `json:"responded"`
	Qualified    int `json:"qualified"`
	Appointments int `json:"appointments"`
	OptedOut     int `json:"opted_out"`
	Failed       int `json:"failed"`
}

// Stat names accepted by CampaignRepository.IncrementStat.
const (
	StatContacted    = "contacted"
	StatResponded    = "responded"
	StatQualified    = "qualified"
	StatAppointments = "appointments"
	StatOptedOut     = "opted_out"
	StatFailed       = "failed"
)

type Campaign struct {
	ID           int            `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	PropertyType PropertyType   `db:"property_type" json:"property_type"`
	Status       CampaignStatus `db:"status" json:"status"`
	Config       CampaignConfig `db:"config" json:"config"`
	Stats        CampaignStats  `db:"stats" json:"stats"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}

// Location resolves the campaign timezone, falling back to UTC.
func (c *Campaign) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Config.Timezone); err == nil && c.Config.Timezone != "" {
		return loc
	}
	return time.UTC
}

// Day is the campaign-local calendar day used for daily caps.
func (c *Campaign) Day(now time.Time) string {
	return now.In(c.Location()).Format("2006-01-02")
}

// Standalone wraps default settings for leads that belong to no campaign, so
// replies and manual sends are still gated.
func (c CampaignConfig) Standalone() *Campaign {
	return &Campaign{Name: "standalone", Status: CampaignActive, Config: c}
}
