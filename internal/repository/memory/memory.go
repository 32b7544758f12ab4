// Package memory is an in-process backend for the repository interfaces.
// It is used when no DATABASE_URL is configured and throughout the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

type state struct {
	mu sync.Mutex

	campaigns     map[int]*model.Campaign
	daily         map[string]int
	leads         map[int]*model.Lead
	conversations map[int]*model.Conversation
	byLead        map[int]int
	providerIDs   map[string]bool
	appointments  map[int]*model.Appointment
	locks         map[int]lease

	nextCampaign, nextLead, nextConversation, nextMessage, nextAppointment int
}

type lease struct {
	owner   string
	expires time.Time
}

// New returns empty stores sharing one lock.
func New() repository.Repositories {
	s := &state{
		campaigns:     map[int]*model.Campaign{},
		daily:         map[string]int{},
		leads:         map[int]*model.Lead{},
		conversations: map[int]*model.Conversation{},
		byLead:        map[int]int{},
		providerIDs:   map[string]bool{},
		appointments:  map[int]*model.Appointment{},
		locks:         map[int]lease{},
	}
	return repository.Repositories{
		Campaigns:     &Campaigns{s},
		Leads:         &Leads{s},
		Conversations: &Conversations{s},
		Appointments:  &Appointments{s},
		Locks:         &Locks{s},
	}
}

// ====================== Campaigns ======================

type Campaigns struct{ s *state }

func (r *Campaigns) Create(_ context.Context, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextCampaign++
	c.ID = r.s.nextCampaign
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignCreated
	}
	cp := *c
	r.s.campaigns[c.ID] = &cp
	return nil
}

func (r *Campaigns) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *Campaigns) Update(_ context.Context, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	now := time.Now()
	cur.Name = c.Name
	cur.Config = c.Config
	cur.UpdatedAt = &now
	return nil
}

func (r *Campaigns) UpdateStatus(_ context.Context, id int, status model.CampaignStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	now := time.Now()
	cur.Status = status
	cur.UpdatedAt = &now
	return nil
}

func (r *Campaigns) ListCampaigns(_ context.Context, offset, limit int, propertyType, status string) ([]*model.Campaign, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.Campaign
	for _, c := range r.s.campaigns {
		if propertyType != "" && string(c.PropertyType) != propertyType {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, offset, limit), len(all), nil
}

func (r *Campaigns) ListActive(_ context.Context) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range r.s.campaigns {
		if c.Status == model.CampaignActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Campaigns) IncrementStat(_ context.Context, id int, stat string, delta int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	switch stat {
	case model.StatContacted:
		c.Stats.Contacted += delta
	case model.StatResponded:
		c.Stats.Responded += delta
	case model.StatQualified:
		c.Stats.Qualified += delta
	case model.StatAppointments:
		c.Stats.Appointments += delta
	case model.StatOptedOut:
		c.Stats.OptedOut += delta
	case model.StatFailed:
		c.Stats.Failed += delta
	default:
		return fmt.Errorf("unknown campaign stat %q", stat)
	}
	return nil
}

func (r *Campaigns) ReserveDailyContact(_ context.Context, id int, day string, max int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := dailyKey(id, day)
	if r.s.daily[key] >= max {
		return false, nil
	}
	r.s.daily[key]++
	return true, nil
}

func (r *Campaigns) ReleaseDailyContact(_ context.Context, id int, day string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := dailyKey(id, day)
	if r.s.daily[key] > 0 {
		r.s.daily[key]--
	}
	return nil
}

func (r *Campaigns) DailyContacts(_ context.Context, id int, day string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.daily[dailyKey(id, day)], nil
}

func dailyKey(id int, day string) string {
	return fmt.Sprintf("%d/%s", id, day)
}

// ====================== Leads ======================

type Leads struct{ s *state }

func (r *Leads) Create(_ context.Context, l *model.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextLead++
	now := time.Now()
	l.ID = r.s.nextLead
	l.CreatedAt = now
	l.UpdatedAt = now
	if l.Status == "" {
		l.Status = model.LeadNew
	}
	if l.QualificationData == nil {
		l.QualificationData = map[string]string{}
	}
	r.s.leads[l.ID] = l.Clone()
	return nil
}

func (r *Leads) GetByID(_ context.Context, id int) (*model.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return nil, appErrors.NewLeadNotFound(id)
	}
	return l.Clone(), nil
}

func (r *Leads) Update(_ context.Context, l *model.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.leads[l.ID]
	if !ok {
		return appErrors.NewLeadNotFound(l.ID)
	}
	l.UpdatedAt = time.Now()
	next := l.Clone()
	// campaign membership only changes through AssignCampaign
	next.CampaignID = cur.CampaignID
	next.CreatedAt = cur.CreatedAt
	r.s.leads[l.ID] = next
	return nil
}

func (r *Leads) Delete(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.leads[id]; !ok {
		return appErrors.NewLeadNotFound(id)
	}
	delete(r.s.leads, id)
	return nil
}

func (r *Leads) List(_ context.Context, f model.LeadFilter, offset, limit int) ([]*model.Lead, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.Lead
	for _, l := range r.s.leads {
		if f.CampaignID != nil && (l.CampaignID == nil || *l.CampaignID != *f.CampaignID) {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.PropertyType != "" && l.PropertyType != f.PropertyType {
			continue
		}
		all = append(all, l.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, offset, limit), len(all), nil
}

func (r *Leads) ListDue(_ context.Context, campaignID int, now time.Time, limit int) ([]*model.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []*model.Lead
	for _, l := range r.s.leads {
		if l.CampaignID == nil || *l.CampaignID != campaignID || !l.IsDue(now) {
			continue
		}
		if lk, held := r.s.locks[l.ID]; held && lk.expires.After(now) {
			continue
		}
		due = append(due, l.Clone())
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextFollowUpAt, due[j].NextFollowUpAt
		switch {
		case a == nil && b == nil:
			return due[i].ID < due[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return due[i].ID < due[j].ID
	})
	if limit >= 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *Leads) AssignCampaign(_ context.Context, leadID, campaignID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[leadID]
	if !ok {
		return appErrors.NewLeadNotFound(leadID)
	}
	if l.CampaignID != nil && *l.CampaignID != campaignID {
		return &appErrors.ErrCampaignConflict{LeadID: leadID, CampaignID: *l.CampaignID}
	}
	id := campaignID
	l.CampaignID = &id
	l.UpdatedAt = time.Now()
	return nil
}

func (r *Leads) FindByContact(_ context.Context, phone, email string) (*model.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var match *model.Lead
	for _, l := range r.s.leads {
		hit := (phone != "" && l.Phone == phone) ||
			(email != "" && strings.EqualFold(l.Email, email))
		if hit && (match == nil || l.ID < match.ID) {
			match = l
		}
	}
	if match == nil {
		return nil, nil
	}
	return match.Clone(), nil
}

// ====================== Conversations ======================

type Conversations struct{ s *state }

func (r *Conversations) GetOrCreateForLead(_ context.Context, leadID int) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.leads[leadID]; !ok {
		return nil, appErrors.NewLeadNotFound(leadID)
	}
	if id, ok := r.s.byLead[leadID]; ok {
		return cloneConversation(r.s.conversations[id]), nil
	}
	r.s.nextConversation++
	now := time.Now()
	c := &model.Conversation{
		ID:        r.s.nextConversation,
		LeadID:    leadID,
		Status:    model.LeadNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.s.conversations[c.ID] = c
	r.s.byLead[leadID] = c.ID
	return cloneConversation(c), nil
}

func (r *Conversations) GetByID(_ context.Context, id int) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, appErrors.NewConversationNotFound(id)
	}
	return cloneConversation(c), nil
}

func (r *Conversations) GetByLeadID(_ context.Context, leadID int) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byLead[leadID]
	if !ok {
		return nil, appErrors.NewLeadNotFound(leadID)
	}
	return cloneConversation(r.s.conversations[id]), nil
}

func (r *Conversations) UpdateState(_ context.Context, id int, status model.LeadStatus, stage int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	c.Status = status
	c.StageIndex = stage
	c.UpdatedAt = time.Now()
	return nil
}

func (r *Conversations) AppendMessage(_ context.Context, msg *model.Message) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[msg.ConversationID]
	if !ok {
		return false, appErrors.NewConversationNotFound(msg.ConversationID)
	}
	if msg.Direction == model.DirectionInbound && msg.ProviderMessageID != "" {
		if r.s.providerIDs[msg.ProviderMessageID] {
			return false, nil
		}
		r.s.providerIDs[msg.ProviderMessageID] = true
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	r.s.nextMessage++
	msg.ID = r.s.nextMessage
	stored := *msg
	stored.Attempts = append([]model.DeliveryAttempt(nil), msg.Attempts...)
	c.Messages = append(c.Messages, stored)
	c.UpdatedAt = msg.CreatedAt
	return true, nil
}

func (r *Conversations) UpdateDeliveryStatus(_ context.Context, providerID string, status model.DeliveryStatus, lastError string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	updated := false
	for _, c := range r.s.conversations {
		for i := range c.Messages {
			m := &c.Messages[i]
			if m.Direction == model.DirectionOutbound && m.ProviderMessageID == providerID {
				m.DeliveryStatus = status
				m.LastError = lastError
				updated = true
			}
		}
	}
	return updated, nil
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Messages = make([]model.Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Attempts = append([]model.DeliveryAttempt(nil), m.Attempts...)
		cp.Messages[i] = m
	}
	return &cp
}

// ====================== Appointments ======================

type Appointments struct{ s *state }

func (r *Appointments) Create(_ context.Context, a *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextAppointment++
	now := time.Now()
	a.ID = r.s.nextAppointment
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.AppointmentScheduled
	}
	cp := *a
	r.s.appointments[a.ID] = &cp
	return nil
}

func (r *Appointments) GetByID(_ context.Context, id int) (*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return nil, appErrors.NewAppointmentNotFound(id)
	}
	cp := *a
	return &cp, nil
}

func (r *Appointments) UpdateStatus(_ context.Context, id int, status model.AppointmentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return appErrors.NewAppointmentNotFound(id)
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

func (r *Appointments) ListOverdue(_ context.Context, cutoff time.Time) ([]*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Appointment
	for _, a := range r.s.appointments {
		if a.Status == model.AppointmentScheduled && !a.EndsAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(out[j].EndsAt) })
	return out, nil
}

// ====================== Locks ======================

type Locks struct{ s *state }

func (r *Locks) Acquire(_ context.Context, leadID int, owner string, ttl time.Duration, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, held := r.s.locks[leadID]; held && cur.expires.After(now) {
		return false, nil
	}
	r.s.locks[leadID] = lease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (r *Locks) Release(_ context.Context, leadID int, owner string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, held := r.s.locks[leadID]; held && cur.owner == owner {
		delete(r.s.locks, leadID)
	}
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
