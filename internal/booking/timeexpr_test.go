package booking

import (
	"testing"
	"time"
)

func TestParseTimeExpression(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	// Tuesday 09:00 local
	now := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)

	cases := []struct {
		text   string
		option int
		day    int // day of month, 0 when absent
		hour   int // -1 when absent
		minute int
		window string
	}{
		{"2", 2, 0, -1, 0, ""},
		{"option 3", 3, 0, -1, 0, ""},
		{"the second one works", 2, 0, -1, 0, ""},
		{"tomorrow at 10am", 0, 4, 10, 0, ""},
		{"Thursday 2:30 pm", 0, 5, 14, 30, ""},
		{"today at noon", 0, 3, 12, 0, ""},
		{"tuesday", 0, 3, -1, 0, ""},
		{"monday morning", 0, 9, -1, 0, "morning"},
		{"at 4", 0, 0, 16, 0, ""},
		{"16:00 works", 0, 0, 16, 0, ""},
		{"friday afternoon around 3", 0, 6, 15, 0, "afternoon"},
		{"12am", 0, 0, 0, 0, ""},
	}
	for _, c := range cases {
		e := ParseTimeExpression(c.text, now, loc)
		if e.Option != c.option {
			t.Errorf("%q: expected option %d, got %d", c.text, c.option, e.Option)
		}
		if c.day == 0 && e.HasDay {
			t.Errorf("%q: unexpected day %v", c.text, e.Day)
		}
		if c.day != 0 && (!e.HasDay || e.Day.Day() != c.day) {
			t.Errorf("%q: expected day %d, got %v (%v)", c.text, c.day, e.Day, e.HasDay)
		}
		if c.hour < 0 && e.HasClock {
			t.Errorf("%q: unexpected clock %d:%02d", c.text, e.Hour, e.Minute)
		}
		if c.hour >= 0 && (!e.HasClock || e.Hour != c.hour || e.Minute != c.minute) {
			t.Errorf("%q: expected %d:%02d, got %d:%02d (%v)", c.text, c.hour, c.minute, e.Hour, e.Minute, e.HasClock)
		}
		if c.window != "" && (e.Window == nil || *e.Window != windows[c.window]) {
			t.Errorf("%q: expected %s window, got %v", c.text, c.window, e.Window)
		}
	}

	if !ParseTimeExpression("sounds good", now, loc).Empty() {
		t.Error("expected nothing parsed from a reply without a time")
	}
}
