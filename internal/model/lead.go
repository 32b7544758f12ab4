// internal/model/lead.go
package model

import (
	"strings"
	"time"
)

type PropertyType string

const (
	PropertyFixFlip    PropertyType = "fix_flip"
	PropertyRental     PropertyType = "rental"
	PropertyVacantLand PropertyType = "vacant_land"
)

func (p PropertyType) Valid() bool {
	switch p {
	case PropertyFixFlip, PropertyRental, PropertyVacantLand:
		return true
	}
	return false
}

type LeadStatus string

const (
	LeadNew             LeadStatus = "new"
	LeadContacted       LeadStatus = "contacted"
	LeadWaitingResponse LeadStatus = "waiting_response"
	LeadResponded       LeadStatus = "responded"
	LeadQualified       LeadStatus = "qualified"
	LeadAppointmentSet  LeadStatus = "appointment_set"
	LeadNoShow          LeadStatus = "no_show"
	LeadNotInterested   LeadStatus = "not_interested"
	LeadOptedOut        LeadStatus = "opted_out"
)

// followUpStatuses are eligible for automated outreach once NextFollowUpAt
// has passed. New leads are always eligible.
var followUpStatuses = map[LeadStatus]bool{
	LeadContacted:       true,
	LeadWaitingResponse: true,
	LeadQualified:       true,
	LeadNoShow:          true,
}

// FollowUpStatuses lists the statuses that wait on NextFollowUpAt.
func FollowUpStatuses() []LeadStatus {
	return []LeadStatus{LeadContacted, LeadWaitingResponse, LeadQualified, LeadNoShow}
}

// Terminal statuses never re-enter automated outreach.
func (s LeadStatus) Terminal() bool {
	return s == LeadOptedOut || s == LeadNotInterested
}

type Lead struct {
	ID                int               `db:"id" json:"id"`
	CampaignID        *int              `db:"campaign_id" json:"campaign_id,omitempty"`
	FirstName         string            `db:"first_name" json:"first_name"`
	LastName          string            `db:"last_name" json:"last_name"`
	Phone             string            `db:"phone" json:"phone"`
	Email             string            `db:"email" json:"email,omitempty"`
	PropertyAddress   string            `db:"property_address" json:"property_address,omitempty"`
	Timezone          string            `db:"timezone" json:"timezone,omitempty"`
	PropertyType      PropertyType      `db:"property_type" json:"property_type"`
	Status            LeadStatus        `db:"status" json:"status"`
	QualificationData map[string]string `db:"qualification_data" json:"qualification_data"`
	FollowUpIndex     int               `db:"follow_up_index" json:"follow_up_index"`
	UnparseableStreak int               `db:"unparseable_streak" json:"unparseable_streak"`
	LastContactAt     *time.Time        `db:"last_contact_at" json:"last_contact_at,omitempty"`
	NextFollowUpAt    *time.Time        `db:"next_follow_up_at" json:"next_follow_up_at,omitempty"`
	ContactCountToday int               `db:"contact_count_today" json:"contact_count_today"`
	ContactDay        string            `db:"contact_day" json:"contact_day,omitempty"`
	ManualReview      bool              `db:"manual_review" json:"manual_review"`
	ReviewReason      string            `db:"review_reason" json:"review_reason,omitempty"`
	Escalated         bool              `db:"escalated" json:"escalated"`
	NoShowCount       int               `db:"no_show_count" json:"no_show_count"`
	OfferedSlots      []time.Time       `db:"offered_slots" json:"offered_slots,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// Location resolves the lead's timezone. ok is false when it is unknown.
func (l *Lead) Location(fallback string) (*time.Location, bool) {
	name := strings.TrimSpace(l.Timezone)
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	if name == "" {
		return nil, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	return loc, true
}

// ContactsOn returns today's contact count; the counter resets when the
// local day changes.
func (l *Lead) ContactsOn(day string) int {
	if l.ContactDay != day {
		return 0
	}
	return l.ContactCountToday
}

// RecordContact bumps the daily counter for the given local day.
func (l *Lead) RecordContact(day string, at time.Time) {
	if l.ContactDay != day {
		l.ContactDay = day
		l.ContactCountToday = 0
	}
	l.ContactCountToday++
	t := at
	l.LastContactAt = &t
}

func (l *Lead) Clone() *Lead {
	c := *l
	if l.QualificationData != nil {
		c.QualificationData = make(map[string]string, len(l.QualificationData))
		for k, v := range l.QualificationData {
			c.QualificationData[k] = v
		}
	}
	if l.OfferedSlots != nil {
		c.OfferedSlots = append([]time.Time(nil), l.OfferedSlots...)
	}
	if l.CampaignID != nil {
		id := *l.CampaignID
		c.CampaignID = &id
	}
	if l.LastContactAt != nil {
		t := *l.LastContactAt
		c.LastContactAt = &t
	}
	if l.NextFollowUpAt != nil {
		t := *l.NextFollowUpAt
		c.NextFollowUpAt = &t
	}
	return &c
}

// IsDue reports whether the lead should be picked up by an execution at now.
// Leads under manual review or escalated to a human are never due.
func (l *Lead) IsDue(now time.Time) bool {
	if l.ManualReview || l.Escalated || l.Status.Terminal() {
		return false
	}
	if l.Status == LeadNew {
		return true
	}
	if !followUpStatuses[l.Status] || l.NextFollowUpAt == nil {
		return false
	}
	return !l.NextFollowUpAt.After(now)
}

// FullName is used for greetings.
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// LeadFilter drives the paginated lead listing.
type LeadFilter struct {
	CampaignID   *int
	Status       LeadStatus
	PropertyType PropertyType
}
