package booking

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is a part of the day, [From, To) in local hours.
type Window struct {
	From int
	To   int
}

var windows = map[string]Window{
	"morning":   {From: 8, To: 12},
	"afternoon": {From: 12, To: 17},
	"evening":   {From: 17, To: 21},
	"tonight":   {From: 17, To: 21},
}

// Expression is what ParseTimeExpression understood. Zero values mean the
// part was not mentioned.
type Expression struct {
	Option   int
	Day      time.Time
	HasDay   bool
	HasClock bool
	Hour     int
	Minute   int
	Window   *Window
}

func (e Expression) Empty() bool {
	return e.Option == 0 && !e.HasDay && !e.HasClock && e.Window == nil
}

var (
	optionPattern   = regexp.MustCompile(`^(?:option|number|#)?\s*([1-9])\s*[.!)]?$`)
	ordinalPattern  = regexp.MustCompile(`\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th)\s+(one|option|slot|time)\b`)
	meridiemPattern = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)`)
	clockPattern    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	atHourPattern   = regexp.MustCompile(`\b(?:at|@|around|by)\s*(\d{1,2})\b`)
)

var ordinals = map[string]int{
	"first": 1, "1st": 1, "second": 2, "2nd": 2, "third": 3, "3rd": 3,
	"fourth": 4, "4th": 4, "fifth": 5, "5th": 5,
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "weds": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseTimeExpression reads a reply like "tomorrow at 2pm", "Thursday
// morning" or "option 2". Days resolve to the next matching date on or after
// now in loc.
func ParseTimeExpression(text string, now time.Time, loc *time.Location) Expression {
	var e Expression
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return e
	}
	local := now.In(loc)

	if m := optionPattern.FindStringSubmatch(t); m != nil {
		e.Option, _ = strconv.Atoi(m[1])
		return e
	}
	if m := ordinalPattern.FindStringSubmatch(t); m != nil {
		e.Option = ordinals[m[1]]
	}

	words := strings.FieldsFunc(t, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, w := range words {
		switch {
		case w == "today" || w == "tonight":
			e.Day, e.HasDay = dateOf(local), true
		case w == "tomorrow" || w == "tmrw" || w == "tmr":
			e.Day, e.HasDay = dateOf(local).AddDate(0, 0, 1), true
		default:
			if wd, ok := weekdays[w]; ok && !e.HasDay {
				ahead := (int(wd) - int(local.Weekday()) + 7) % 7
				e.Day, e.HasDay = dateOf(local).AddDate(0, 0, ahead), true
			}
		}
		if w == "noon" {
			e.HasClock, e.Hour, e.Minute = true, 12, 0
		}
		if win, ok := windows[w]; ok && e.Window == nil {
			e.Window = &win
		}
	}

	if e.HasClock {
		return e
	}
	if m := meridiemPattern.FindStringSubmatch(t); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour >= 1 && hour <= 12 && minute < 60 {
			if strings.HasPrefix(m[3], "p") && hour != 12 {
				hour += 12
			}
			if strings.HasPrefix(m[3], "a") && hour == 12 {
				hour = 0
			}
			e.HasClock, e.Hour, e.Minute = true, hour, minute
			return e
		}
	}
	if m := clockPattern.FindStringSubmatch(t); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour < 24 && minute < 60 {
			e.HasClock, e.Hour, e.Minute = true, businessHour(hour, e.Window), minute
			return e
		}
	}
	if m := atHourPattern.FindStringSubmatch(t); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if hour >= 1 && hour <= 23 {
			e.HasClock, e.Hour = true, businessHour(hour, e.Window)
		}
	}
	return e
}

// businessHour reads a bare "2" as 2pm, since nobody books a call for 2am.
func businessHour(hour int, w *Window) int {
	if hour >= 12 {
		return hour
	}
	if w != nil && w.From >= 12 {
		return hour + 12
	}
	if hour <= 7 {
		return hour + 12
	}
	return hour
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
