// Package booking turns a qualified lead into a calendar appointment.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/repository"
)

var ErrNoSlots = errors.New("booking: no free slots in range")

const slotLayout = "Mon Jan 2 at 3:04 PM"

type Options struct {
	Tolerance       time.Duration
	Slots           int
	Days            int
	NoShowGrace     time.Duration
	LeaseTTL        time.Duration
	DefaultTimezone string
}

func DefaultOptions() Options {
	return Options{
		Tolerance:       15 * time.Minute,
		Slots:           3,
		Days:            5,
		NoShowGrace:     30 * time.Minute,
		LeaseTTL:        2 * time.Minute,
		DefaultTimezone: "America/New_York",
	}
}

type Coordinator struct {
	Calendar      Calendar
	Engine        *qualification.Engine
	Leads         repository.LeadRepositoryInterface
	Appointments  repository.AppointmentRepositoryInterface
	Conversations repository.ConversationRepositoryInterface
	Locks         repository.LockRepositoryInterface
	Options       Options
}

func NewCoordinator(calendar Calendar, engine *qualification.Engine, repos repository.Repositories, opts Options) *Coordinator {
	return &Coordinator{
		Calendar:      calendar,
		Engine:        engine,
		Leads:         repos.Leads,
		Appointments:  repos.Appointments,
		Conversations: repos.Conversations,
		Locks:         repos.Locks,
		Options:       opts,
	}
}

type Proposal struct {
	Slots   []Slot `json:"slots"`
	Message string `json:"message"`
}

type ConfirmationKind string

const (
	Confirmed ConfirmationKind = "confirmed"
	Ambiguous ConfirmationKind = "ambiguous"
	NoMatch   ConfirmationKind = "no_match"
)

type Confirmation struct {
	Kind        ConfirmationKind   `json:"kind"`
	Appointment *model.Appointment `json:"appointment,omitempty"`
	Candidates  []time.Time        `json:"candidates,omitempty"`
	Message     string             `json:"message"`
}

// Propose fetches free slots, remembers them on the lead and renders the
// offer. No-show leads get the escalating reschedule text instead. The
// caller persists the lead and sends the message.
func (c *Coordinator) Propose(ctx context.Context, lead *model.Lead, now time.Time) (*Proposal, error) {
	flow, err := c.Engine.Flows.For(lead.PropertyType)
	if err != nil {
		return nil, err
	}
	loc := c.location(lead)

	from := now.Add(time.Hour)
	to := dateOf(now.In(loc)).AddDate(0, 0, c.Options.Days+1)
	free, err := c.Calendar.FreeSlots(ctx, from, to, loc)
	if err != nil {
		return nil, fmt.Errorf("free slots: %w", err)
	}
	if len(free) == 0 {
		return nil, ErrNoSlots
	}
	if n := c.Options.Slots; n > 0 && len(free) > n {
		free = free[:n]
	}

	lead.OfferedSlots = make([]time.Time, len(free))
	for i, s := range free {
		lead.OfferedSlots[i] = s.Start.UTC()
	}

	template := flow.SlotOffer
	if lead.Status == model.LeadNoShow {
		template = rescheduleTemplate(flow, lead.NoShowCount)
	}
	return &Proposal{
		Slots:   free,
		Message: c.render(template, lead, lead.OfferedSlots, nil),
	}, nil
}

// Confirm matches a reply against the slots offered earlier. Only an exact
// or closest-within-tolerance match books; ties ask the lead to choose.
func (c *Coordinator) Confirm(ctx context.Context, lead *model.Lead, text string, now time.Time) (*Confirmation, error) {
	flow, err := c.Engine.Flows.For(lead.PropertyType)
	if err != nil {
		return nil, err
	}
	if len(lead.OfferedSlots) == 0 {
		p, err := c.Propose(ctx, lead, now)
		if err != nil {
			return nil, err
		}
		return &Confirmation{Kind: NoMatch, Message: p.Message}, nil
	}

	loc := c.location(lead)
	expr := ParseTimeExpression(text, now, loc)
	candidates := matchSlots(expr, lead.OfferedSlots, loc, c.Options.Tolerance)

	switch len(candidates) {
	case 0:
		return &Confirmation{
			Kind:    NoMatch,
			Message: c.render(flow.SlotRetry, lead, lead.OfferedSlots, nil),
		}, nil
	case 1:
		return c.book(ctx, flow, lead, candidates[0], now)
	default:
		return &Confirmation{
			Kind:       Ambiguous,
			Candidates: candidates,
			Message:    c.render(flow.SlotAmbiguous, lead, candidates, nil),
		}, nil
	}
}

func (c *Coordinator) book(ctx context.Context, flow *qualification.Flow, lead *model.Lead, start time.Time, now time.Time) (*Confirmation, error) {
	next := lead.Clone()
	if err := c.Engine.Transition(next, model.LeadAppointmentSet); err != nil {
		return nil, err
	}

	event, err := c.Calendar.CreateEvent(ctx, EventRequest{
		LeadID:   lead.ID,
		Title:    fmt.Sprintf("Property call: %s", lead.FullName()),
		Attendee: lead.Email,
		Start:    start,
	})
	if errors.Is(err, ErrSlotTaken) {
		p, err := c.Propose(ctx, lead, now)
		if err != nil {
			return nil, err
		}
		return &Confirmation{Kind: NoMatch, Message: p.Message}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	appt := &model.Appointment{
		LeadID:    lead.ID,
		EventID:   event.ID,
		VideoLink: event.VideoLink,
		StartsAt:  event.Start.UTC(),
		EndsAt:    event.End.UTC(),
		Status:    model.AppointmentScheduled,
	}
	if err := c.Appointments.Create(ctx, appt); err != nil {
		if cerr := c.Calendar.CancelEvent(context.WithoutCancel(ctx), event.ID); cerr != nil {
			log.Printf("❌ Orphaned calendar event %s for lead %d: %v", event.ID, lead.ID, cerr)
		}
		return nil, fmt.Errorf("store appointment: %w", err)
	}

	next.OfferedSlots = nil
	next.NextFollowUpAt = nil
	next.FollowUpIndex = 0
	*lead = *next

	log.Printf("📅 Lead %d booked for %s", lead.ID, appt.StartsAt.Format(time.RFC3339))
	return &Confirmation{
		Kind:        Confirmed,
		Appointment: appt,
		Message:     c.render(flow.Booked, lead, nil, appt),
	}, nil
}

// rescheduleTemplate escalates with each missed appointment and stays on the
// last message once the list runs out.
func rescheduleTemplate(flow *qualification.Flow, noShows int) string {
	idx := noShows - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(flow.Reschedule) {
		idx = len(flow.Reschedule) - 1
	}
	return flow.Reschedule[idx]
}

// SweepNoShows flips scheduled appointments that ended more than the grace
// period ago to no_show and makes their leads due for a reschedule offer.
func (c *Coordinator) SweepNoShows(ctx context.Context, now time.Time) (int, error) {
	overdue, err := c.Appointments.ListOverdue(ctx, now.Add(-c.Options.NoShowGrace))
	if err != nil {
		return 0, fmt.Errorf("list overdue appointments: %w", err)
	}

	owner := "no-show-" + uuid.NewString()
	var errs []error
	flipped := 0
	for _, appt := range overdue {
		ok, err := c.Locks.Acquire(ctx, appt.LeadID, owner, c.Options.LeaseTTL, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			// picked up again on the next sweep
			continue
		}
		err = c.markNoShow(ctx, appt, now)
		if rerr := c.Locks.Release(ctx, appt.LeadID, owner); rerr != nil {
			log.Printf("⚠️ release lock for lead %d: %v", appt.LeadID, rerr)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("appointment %d: %w", appt.ID, err))
			continue
		}
		flipped++
	}
	return flipped, errors.Join(errs...)
}

func (c *Coordinator) markNoShow(ctx context.Context, appt *model.Appointment, now time.Time) error {
	if err := c.Appointments.UpdateStatus(ctx, appt.ID, model.AppointmentNoShow); err != nil {
		return err
	}
	lead, err := c.Leads.GetByID(ctx, appt.LeadID)
	if err != nil {
		return err
	}
	if lead.Status != model.LeadAppointmentSet {
		return nil
	}
	if err := c.Engine.Transition(lead, model.LeadNoShow); err != nil {
		return err
	}
	lead.NoShowCount++
	lead.FollowUpIndex = 0
	lead.OfferedSlots = nil
	due := now
	lead.NextFollowUpAt = &due
	if err := c.Leads.Update(ctx, lead); err != nil {
		return err
	}
	if c.Conversations != nil {
		conv, err := c.Conversations.GetOrCreateForLead(ctx, lead.ID)
		if err != nil {
			return err
		}
		if err := c.Conversations.UpdateState(ctx, conv.ID, lead.Status, conv.StageIndex); err != nil {
			return err
		}
	}
	log.Printf("⚠️ Lead %d missed appointment %d", lead.ID, appt.ID)
	return nil
}

// CompleteAppointment records the external "meeting happened" signal.
func (c *Coordinator) CompleteAppointment(ctx context.Context, id int) (*model.Appointment, error) {
	appt, err := c.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != model.AppointmentScheduled {
		return nil, appErrors.NewInvalidStateTransition("appointment", string(appt.Status), string(model.AppointmentCompleted))
	}
	if err := c.Appointments.UpdateStatus(ctx, id, model.AppointmentCompleted); err != nil {
		return nil, err
	}
	appt.Status = model.AppointmentCompleted
	return appt, nil
}

func (c *Coordinator) location(lead *model.Lead) *time.Location {
	if loc, ok := lead.Location(c.Options.DefaultTimezone); ok {
		return loc
	}
	return time.UTC
}

func (c *Coordinator) render(template string, lead *model.Lead, slots []time.Time, appt *model.Appointment) string {
	data := qualification.TemplateData(lead, nil)
	loc := c.location(lead)
	data["slots"] = FormatSlots(slots, loc)
	if appt != nil {
		data["appointment_time"] = appt.StartsAt.In(loc).Format(slotLayout)
		data["video_link"] = appt.VideoLink
	}
	return qualification.RenderTemplate(template, data)
}

// FormatSlots numbers the slots so a lead can answer "2".
func FormatSlots(slots []time.Time, loc *time.Location) string {
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = fmt.Sprintf("%d) %s", i+1, s.In(loc).Format(slotLayout))
	}
	return strings.Join(parts, ", ")
}

func matchSlots(expr Expression, offered []time.Time, loc *time.Location, tolerance time.Duration) []time.Time {
	if expr.Option > 0 {
		if expr.Option <= len(offered) {
			return []time.Time{offered[expr.Option-1]}
		}
		return nil
	}
	if expr.Empty() {
		return nil
	}

	pool := offered
	if expr.HasDay {
		pool = nil
		for _, s := range offered {
			if sameDate(s.In(loc), expr.Day) {
				pool = append(pool, s)
			}
		}
	}

	switch {
	case expr.HasClock:
		best := tolerance + 1
		var out []time.Time
		for _, s := range pool {
			local := s.In(loc)
			want := time.Date(local.Year(), local.Month(), local.Day(), expr.Hour, expr.Minute, 0, 0, loc)
			diff := local.Sub(want)
			if diff < 0 {
				diff = -diff
			}
			if diff > tolerance {
				continue
			}
			if diff < best {
				best, out = diff, nil
			}
			if diff == best {
				out = append(out, s)
			}
		}
		return out
	case expr.Window != nil:
		var out []time.Time
		for _, s := range pool {
			if h := s.In(loc).Hour(); h >= expr.Window.From && h < expr.Window.To {
				out = append(out, s)
			}
		}
		return out
	default:
		return pool
	}
}
