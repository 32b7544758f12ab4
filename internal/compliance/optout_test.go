package compliance

import "testing"

func TestIsOptOut(t *testing.T) {
	cases := map[string]bool{
		"STOP":                          true,
		"stop.":                         true,
		"Stop please":                   true,
		"Unsubscribe":                   true,
		"please remove me from the list": true,
		"do NOT contact me again":       true,
		"opt-out":                       true,
		"I stopped by the house":        false,
		"the roof needs work":           false,
		"":                              false,
		"we can't stop the tenant from leaving, it's a long story": false,
	}
	for text, want := range cases {
		if got := IsOptOut(text); got != want {
			t.Errorf("IsOptOut(%q) = %v, want %v", text, got, want)
		}
	}
}
