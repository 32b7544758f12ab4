package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSlotTaken = errors.New("booking: slot is no longer available")

type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type EventRequest struct {
	LeadID   int
	Title    string
	Attendee string
	Start    time.Time
	End      time.Time
}

type Event struct {
	ID        string
	VideoLink string
	Start     time.Time
	End       time.Time
}

// Calendar is the meeting provider.
type Calendar interface {
	FreeSlots(ctx context.Context, from, to time.Time, loc *time.Location) ([]Slot, error)
	CreateEvent(ctx context.Context, req EventRequest) (Event, error)
	CancelEvent(ctx context.Context, eventID string) error
}

// OfficeHoursCalendar offers fixed local office hours and remembers what it
// booked. Weekdays open at 10, 14 and 16; weekends at 11 and 14.
type OfficeHoursCalendar struct {
	Duration      time.Duration
	VideoLinkBase string

	mu     sync.Mutex
	booked map[int64]string
}

func NewOfficeHoursCalendar(duration time.Duration, videoLinkBase string) *OfficeHoursCalendar {
	if duration <= 0 {
		duration = 15 * time.Minute
	}
	return &OfficeHoursCalendar{
		Duration:      duration,
		VideoLinkBase: strings.TrimRight(videoLinkBase, "/"),
		booked:        map[int64]string{},
	}
}

func officeHours(d time.Weekday) []int {
	if d == time.Saturday || d == time.Sunday {
		return []int{11, 14}
	}
	return []int{10, 14, 16}
}

func (c *OfficeHoursCalendar) FreeSlots(ctx context.Context, from, to time.Time, loc *time.Location) ([]Slot, error) {
	if loc == nil {
		loc = time.UTC
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var slots []Slot
	for day := dateOf(from.In(loc)); day.Before(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, hour := range officeHours(day.Weekday()) {
			start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, loc)
			if !start.After(from) || !start.Before(to) {
				continue
			}
			if _, taken := c.booked[start.Unix()]; taken {
				continue
			}
			slots = append(slots, Slot{Start: start, End: start.Add(c.Duration)})
		}
	}
	return slots, nil
}

func (c *OfficeHoursCalendar) CreateEvent(ctx context.Context, req EventRequest) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if req.Start.IsZero() {
		return Event{}, fmt.Errorf("booking: event needs a start time")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.booked[req.Start.Unix()]; taken {
		return Event{}, ErrSlotTaken
	}
	id := uuid.NewString()
	c.booked[req.Start.Unix()] = id

	end := req.End
	if end.IsZero() {
		end = req.Start.Add(c.Duration)
	}
	return Event{
		ID:        id,
		VideoLink: c.VideoLinkBase + "/" + id,
		Start:     req.Start,
		End:       end,
	}, nil
}

// CancelEvent frees the slot held by eventID. Unknown ids are ignored.
func (c *OfficeHoursCalendar) CancelEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for start, id := range c.booked {
		if id == eventID {
			delete(c.booked, start)
		}
	}
	return nil
}

var _ Calendar = (*OfficeHoursCalendar)(nil)
