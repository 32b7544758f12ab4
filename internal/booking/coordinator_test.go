package booking_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/repository"
	"github.com/unclebandit/leadreach-backend/internal/repository/memory"
)

// Tuesday 09:00 in New York.
var now = time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*booking.Coordinator, repository.Repositories, *model.Lead) {
	t.Helper()
	flows, err := qualification.DefaultFlows()
	if err != nil {
		t.Fatalf("flows: %v", err)
	}
	repos := memory.New()
	engine := qualification.NewEngine(flows, nil, nil, qualification.DefaultSettings())
	calendar := booking.NewOfficeHoursCalendar(15*time.Minute, "https://meet.example.com/")
	c := booking.NewCoordinator(calendar, engine, repos, booking.DefaultOptions())

	lead := &model.Lead{
		FirstName:    "Joan",
		Phone:        "+15125550100",
		Timezone:     "America/New_York",
		PropertyType: model.PropertyFixFlip,
		Status:       model.LeadQualified,
	}
	if err := repos.Leads.Create(context.Background(), lead); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return c, repos, lead
}

func TestProposeOffersUpcomingOfficeHours(t *testing.T) {
	c, _, lead := setup(t)

	p, err := c.Propose(context.Background(), lead, now)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	want := []time.Time{
		time.Date(2026, 3, 3, 19, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 21, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC),
	}
	if len(lead.OfferedSlots) != len(want) {
		t.Fatalf("expected %d slots, got %v", len(want), lead.OfferedSlots)
	}
	for i := range want {
		if !lead.OfferedSlots[i].Equal(want[i]) {
			t.Errorf("slot %d: expected %s, got %s", i, want[i], lead.OfferedSlots[i])
		}
	}
	if !strings.Contains(p.Message, "1) Tue Mar 3 at 2:00 PM, 2) Tue Mar 3 at 4:00 PM, 3) Wed Mar 4 at 10:00 AM") {
		t.Errorf("unexpected offer %q", p.Message)
	}
}

func TestConfirmBooksClosestSlot(t *testing.T) {
	c, repos, lead := setup(t)
	ctx := context.Background()
	if _, err := c.Propose(ctx, lead, now); err != nil {
		t.Fatalf("propose: %v", err)
	}

	got, err := c.Confirm(ctx, lead, "today around 4:10pm", now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Kind != booking.Confirmed {
		t.Fatalf("expected confirmed, got %s (%s)", got.Kind, got.Message)
	}
	if lead.Status != model.LeadAppointmentSet || lead.OfferedSlots != nil {
		t.Errorf("lead not moved to appointment_set: %s %v", lead.Status, lead.OfferedSlots)
	}
	if !got.Appointment.StartsAt.Equal(time.Date(2026, 3, 3, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("booked the wrong slot: %s", got.Appointment.StartsAt)
	}
	if !strings.HasPrefix(got.Appointment.VideoLink, "https://meet.example.com/") {
		t.Errorf("unexpected video link %q", got.Appointment.VideoLink)
	}
	stored, err := repos.Appointments.GetByID(ctx, got.Appointment.ID)
	if err != nil || stored.Status != model.AppointmentScheduled {
		t.Errorf("appointment not stored: %v %+v", err, stored)
	}
	if !strings.Contains(got.Message, got.Appointment.VideoLink) {
		t.Errorf("confirmation should carry the link, got %q", got.Message)
	}
}

func TestConfirmAmbiguousAndNoMatch(t *testing.T) {
	c, _, lead := setup(t)
	ctx := context.Background()
	// Monday 09:00 local: offers Mon 14:00, Mon 16:00, Tue 10:00 and, with
	// more slots, Tue 14:00.
	monday := now.AddDate(0, 0, -1)
	c.Options.Slots = 4
	if _, err := c.Propose(ctx, lead, monday); err != nil {
		t.Fatalf("propose: %v", err)
	}

	got, err := c.Confirm(ctx, lead, "2pm works", monday)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Kind != booking.Ambiguous || len(got.Candidates) != 2 {
		t.Fatalf("expected two equally close candidates, got %s %v", got.Kind, got.Candidates)
	}
	if lead.Status != model.LeadQualified {
		t.Errorf("ambiguity must not book, status %s", lead.Status)
	}

	got, _ = c.Confirm(ctx, lead, "5:30pm", monday)
	if got.Kind != booking.NoMatch || !strings.Contains(got.Message, "1) Mon Mar 2 at 2:00 PM") {
		t.Errorf("expected the offer again, got %s %q", got.Kind, got.Message)
	}

	got, _ = c.Confirm(ctx, lead, "option 3", monday)
	if got.Kind != booking.Confirmed || !got.Appointment.StartsAt.Equal(time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("expected option 3 to book Tue 10:00, got %+v", got)
	}
}

func TestSweepNoShowsReschedules(t *testing.T) {
	c, repos, lead := setup(t)
	ctx := context.Background()
	if _, err := c.Propose(ctx, lead, now); err != nil {
		t.Fatalf("propose: %v", err)
	}
	got, err := c.Confirm(ctx, lead, "1", now)
	if err != nil || got.Kind != booking.Confirmed {
		t.Fatalf("confirm: %v %+v", err, got)
	}
	if err := repos.Leads.Update(ctx, lead); err != nil {
		t.Fatalf("update: %v", err)
	}

	// within the grace period nothing changes
	if n, _ := c.SweepNoShows(ctx, got.Appointment.EndsAt.Add(10*time.Minute)); n != 0 {
		t.Fatalf("expected no flips during grace, got %d", n)
	}
	later := got.Appointment.EndsAt.Add(time.Hour)
	n, err := c.SweepNoShows(ctx, later)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 no-show, got %d (%v)", n, err)
	}

	stored, _ := repos.Leads.GetByID(ctx, lead.ID)
	if stored.Status != model.LeadNoShow || stored.NoShowCount != 1 {
		t.Fatalf("expected no_show, got %s count=%d", stored.Status, stored.NoShowCount)
	}
	if stored.NextFollowUpAt == nil || !stored.IsDue(later) {
		t.Errorf("no-show lead should be due for a reschedule")
	}

	p, err := c.Propose(ctx, stored, later)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !strings.Contains(p.Message, "missed our call") {
		t.Errorf("expected the first reschedule message, got %q", p.Message)
	}
}

func TestCompleteAppointmentOnce(t *testing.T) {
	c, repos, lead := setup(t)
	ctx := context.Background()
	appt := &model.Appointment{LeadID: lead.ID, StartsAt: now, EndsAt: now.Add(15 * time.Minute)}
	if err := repos.Appointments.Create(ctx, appt); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := c.CompleteAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err := c.CompleteAppointment(ctx, appt.ID)
	var invalid *appErrors.InvalidStateTransition
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidStateTransition, got %v", err)
	}
	if _, err := c.CompleteAppointment(ctx, 999); !appErrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRescheduleMessageEscalatesWithNoShows(t *testing.T) {
	c, _, lead := setup(t)
	ctx := context.Background()
	lead.Status = model.LeadNoShow

	texts := map[int]string{}
	for _, count := range []int{1, 2, 3, 5} {
		lead.NoShowCount = count
		lead.FollowUpIndex = 0
		p, err := c.Propose(ctx, lead, now)
		if err != nil {
			t.Fatalf("propose after %d no-shows: %v", count, err)
		}
		texts[count] = p.Message
	}

	if !strings.Contains(texts[1], "missed our call") {
		t.Errorf("first no-show should get the gentle message, got %q", texts[1])
	}
	if texts[1] == texts[2] || texts[2] == texts[3] || texts[1] == texts[3] {
		t.Errorf("expected a different message per no-show, got %q / %q / %q", texts[1], texts[2], texts[3])
	}
	if texts[5] != texts[3] {
		t.Errorf("later no-shows should reuse the final message, got %q", texts[5])
	}
}

// MockFailingAppointments rejects every insert.
type MockFailingAppointments struct {
	repository.AppointmentRepositoryInterface
}

func (MockFailingAppointments) Create(context.Context, *model.Appointment) error {
	return errors.New("db: connection reset")
}

func TestFailedAppointmentInsertFreesTheSlot(t *testing.T) {
	c, repos, lead := setup(t)
	ctx := context.Background()
	if _, err := c.Propose(ctx, lead, now); err != nil {
		t.Fatalf("propose: %v", err)
	}

	c.Appointments = MockFailingAppointments{repos.Appointments}
	if _, err := c.Confirm(ctx, lead, "1", now); err == nil {
		t.Fatal("expected the insert failure to surface")
	}
	if lead.Status != model.LeadQualified {
		t.Fatalf("lead must be untouched, got %s", lead.Status)
	}

	c.Appointments = repos.Appointments
	got, err := c.Confirm(ctx, lead, "1", now)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Kind != booking.Confirmed {
		t.Errorf("slot should have been released for a retry, got %s (%s)", got.Kind, got.Message)
	}
}
