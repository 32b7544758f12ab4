package compliance

import (
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

// Deny reasons, in evaluation order.
const (
	ReasonOptedOut          = "opted_out"
	ReasonMissingTimezone   = "missing_timezone"
	ReasonInvalidQuietHours = "invalid_quiet_hours"
	ReasonQuietHours        = "quiet_hours"
	ReasonDailyLimit        = "daily_limit"
	ReasonCampaignInactive  = "campaign_inactive"
	ReasonInvalidConfig     = "invalid_config"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Gate decides whether a lead may be contacted right now. It has no side
// effects; callers record the contact after a successful send.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Evaluate runs the checks in order and returns the first failure.
// Anything it cannot determine is a deny.
func (g *Gate) Evaluate(lead *model.Lead, campaign *model.Campaign, now time.Time) Decision {
	if lead == nil || campaign == nil {
		return deny(ReasonInvalidConfig)
	}
	if lead.Status == model.LeadOptedOut {
		return deny(ReasonOptedOut)
	}

	loc, ok := lead.Location(campaign.Config.Timezone)
	if !ok {
		return deny(ReasonMissingTimezone)
	}
	quiet, err := InQuietHours(now.In(loc), campaign.Config.QuietHoursStart, campaign.Config.QuietHoursEnd)
	if err != nil {
		return deny(ReasonInvalidQuietHours)
	}
	if quiet {
		return deny(ReasonQuietHours)
	}

	max := campaign.Config.MaxDailyContacts
	if max <= 0 {
		return deny(ReasonInvalidConfig)
	}
	if lead.ContactsOn(LocalDay(now, loc)) >= max {
		return deny(ReasonDailyLimit)
	}

	if campaign.Status != model.CampaignActive {
		return deny(ReasonCampaignInactive)
	}
	return allow()
}

// Err turns a deny into a ComplianceDenied error; nil when allowed.
func (g *Gate) Err(d Decision) error {
	if d.Allowed {
		return nil
	}
	return appErrors.NewComplianceDenied(d.Reason)
}

// InQuietHours reports whether local falls inside [start, end). A window
// with start > end wraps midnight. start == end is an empty window.
func InQuietHours(local time.Time, start, end string) (bool, error) {
	s, err := model.ParseClock(start)
	if err != nil {
		return false, err
	}
	e, err := model.ParseClock(end)
	if err != nil {
		return false, err
	}
	t := local.Hour()*60 + local.Minute()
	switch {
	case s == e:
		return false, nil
	case s < e:
		return t >= s && t < e, nil
	default:
		return t >= s || t < e, nil
	}
}

// LocalDay is the calendar day the per-lead counter is keyed on.
func LocalDay(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}
