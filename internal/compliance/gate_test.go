package compliance_test

import (
	"errors"
	"testing"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/compliance"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

func activeCampaign() *model.Campaign {
	return &model.Campaign{
		ID:     1,
		Status: model.CampaignActive,
		Config: model.CampaignConfig{
			MaxDailyContacts: 2,
			FollowUpOffsets:  []int{1, 3, 7, 14},
			QuietHoursStart:  "21:00",
			QuietHoursEnd:    "08:00",
			Timezone:         "America/Chicago",
		},
	}
}

func at(hour, minute int) time.Time {
	loc, _ := time.LoadLocation("America/Chicago")
	return time.Date(2026, 3, 4, hour, minute, 0, 0, loc)
}

func TestWrapAroundQuietHours(t *testing.T) {
	gate := compliance.NewGate()
	lead := &model.Lead{Status: model.LeadNew, Timezone: "America/Chicago"}
	campaign := activeCampaign()

	tests := []struct {
		name    string
		now     time.Time
		allowed bool
	}{
		{"late evening", at(22, 0), false},
		{"early morning", at(3, 0), false},
		{"start boundary is quiet", at(21, 0), false},
		{"end boundary is open", at(8, 0), true},
		{"noon", at(12, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Evaluate(lead, campaign, tt.now)
			if d.Allowed != tt.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tt.allowed, d)
			}
			if !d.Allowed && d.Reason != compliance.ReasonQuietHours {
				t.Errorf("expected quiet_hours, got %s", d.Reason)
			}
		})
	}
}

func TestQuietHoursUseLeadLocalTime(t *testing.T) {
	gate := compliance.NewGate()
	campaign := activeCampaign()
	// 12:00 in Chicago is 03:00 the next morning in Tokyo
	lead := &model.Lead{Status: model.LeadNew, Timezone: "Asia/Tokyo"}

	d := gate.Evaluate(lead, campaign, at(12, 0))
	if d.Allowed || d.Reason != compliance.ReasonQuietHours {
		t.Fatalf("expected quiet hours in the lead's timezone, got %+v", d)
	}
}

func TestNonWrappingWindow(t *testing.T) {
	quiet, err := compliance.InQuietHours(at(13, 30), "12:00", "14:00")
	if err != nil || !quiet {
		t.Errorf("expected 13:30 to be quiet in 12:00-14:00, got %v %v", quiet, err)
	}
	quiet, _ = compliance.InQuietHours(at(14, 0), "12:00", "14:00")
	if quiet {
		t.Errorf("end of window must be open")
	}
	quiet, _ = compliance.InQuietHours(at(3, 0), "09:00", "09:00")
	if quiet {
		t.Errorf("empty window must never be quiet")
	}
}

func TestCheckOrderAndFailClosed(t *testing.T) {
	gate := compliance.NewGate()
	noon := at(12, 0)

	tests := []struct {
		name   string
		lead   func() *model.Lead
		camp   func() *model.Campaign
		reason string
	}{
		{
			name: "opted out wins over everything",
			lead: func() *model.Lead {
				return &model.Lead{Status: model.LeadOptedOut}
			},
			camp: func() *model.Campaign {
				c := activeCampaign()
				c.Status = model.CampaignPaused
				return c
			},
			reason: compliance.ReasonOptedOut,
		},
		{
			name: "no timezone anywhere",
			lead: func() *model.Lead { return &model.Lead{Status: model.LeadNew} },
			camp: func() *model.Campaign {
				c := activeCampaign()
				c.Config.Timezone = ""
				return c
			},
			reason: compliance.ReasonMissingTimezone,
		},
		{
			name: "unknown timezone",
			lead: func() *model.Lead { return &model.Lead{Status: model.LeadNew, Timezone: "Mars/Olympus"} },
			camp: func() *model.Campaign {
				c := activeCampaign()
				c.Config.Timezone = ""
				return c
			},
			reason: compliance.ReasonMissingTimezone,
		},
		{
			name: "malformed quiet hours",
			lead: func() *model.Lead { return &model.Lead{Status: model.LeadNew} },
			camp: func() *model.Campaign {
				c := activeCampaign()
				c.Config.QuietHoursStart = "9pm"
				return c
			},
			reason: compliance.ReasonInvalidQuietHours,
		},
		{
			name: "daily limit reached",
			lead: func() *model.Lead {
				return &model.Lead{Status: model.LeadContacted, ContactDay: "2026-03-04", ContactCountToday: 2}
			},
			camp:   activeCampaign,
			reason: compliance.ReasonDailyLimit,
		},
		{
			name: "campaign paused",
			lead: func() *model.Lead { return &model.Lead{Status: model.LeadNew} },
			camp: func() *model.Campaign {
				c := activeCampaign()
				c.Status = model.CampaignPaused
				return c
			},
			reason: compliance.ReasonCampaignInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Evaluate(tt.lead(), tt.camp(), noon)
			if d.Allowed {
				t.Fatalf("expected deny")
			}
			if d.Reason != tt.reason {
				t.Errorf("expected %s, got %s", tt.reason, d.Reason)
			}
		})
	}
}

func TestDailyCounterResetsOnNewLocalDay(t *testing.T) {
	gate := compliance.NewGate()
	lead := &model.Lead{Status: model.LeadContacted, ContactDay: "2026-03-03", ContactCountToday: 5}

	d := gate.Evaluate(lead, activeCampaign(), at(12, 0))
	if !d.Allowed {
		t.Fatalf("yesterday's contacts must not count, got %+v", d)
	}
}

func TestErrWrapsDeny(t *testing.T) {
	gate := compliance.NewGate()
	if err := gate.Err(compliance.Decision{Allowed: true}); err != nil {
		t.Errorf("allow should not produce an error")
	}
	err := gate.Err(compliance.Decision{Reason: compliance.ReasonOptedOut})
	var denied *appErrors.ComplianceDenied
	if !errors.As(err, &denied) || denied.Reason != compliance.ReasonOptedOut {
		t.Errorf("expected ComplianceDenied(opted_out), got %v", err)
	}
}
