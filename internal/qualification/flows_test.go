package qualification

import (
	"context"
	"strings"
	"testing"

	"github.com/unclebandit/leadreach-backend/internal/model"
)

func TestDefaultFlowsFieldOrder(t *testing.T) {
	flows, err := DefaultFlows()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := map[model.PropertyType][]string{
		model.PropertyFixFlip:    {"occupancy", "condition", "repairs_needed", "timeline", "motivation"},
		model.PropertyVacantLand: {"acreage", "road_access", "utilities", "liens", "price_expectation"},
		model.PropertyRental:     {"occupancy_status", "tenant_quality", "rental_income", "condition", "challenges", "timeline"},
	}
	for pt, names := range want {
		flow, err := flows.For(pt)
		if err != nil {
			t.Fatalf("%s: %v", pt, err)
		}
		if len(flow.Fields) != len(names) {
			t.Fatalf("%s: expected %d fields, got %d", pt, len(names), len(flow.Fields))
		}
		for i, name := range names {
			if flow.Fields[i].Name != name {
				t.Errorf("%s field %d: expected %s, got %s", pt, i, name, flow.Fields[i].Name)
			}
		}
		if !flow.Allowed(model.LeadContacted, model.LeadResponded) || flow.Allowed(model.LeadOptedOut, model.LeadContacted) {
			t.Errorf("%s: shared transition table not applied", pt)
		}
	}
}

func TestChoiceOrderIsPreserved(t *testing.T) {
	flows, _ := DefaultFlows()
	flow, _ := flows.For(model.PropertyFixFlip)
	condition := flow.Field("condition")
	if condition.Values[0].Value != "good" || condition.Values[2].Value != "poor" {
		t.Errorf("unexpected order %+v", condition.Values)
	}
}

func TestParseFlowsRejectsBrokenDefinitions(t *testing.T) {
	if _, err := ParseFlows([]byte("  ")); err == nil {
		t.Error("expected error for empty definitions")
	}
	broken := strings.Replace(string(defaultFlows), "kind: number\n        units: [acre, acres, ac]", "kind: date", 1)
	if _, err := ParseFlows([]byte(broken)); err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("expected unknown kind error, got %v", err)
	}
}

func TestKeywordExtractorNumbers(t *testing.T) {
	flows, _ := DefaultFlows()
	land, _ := flows.For(model.PropertyVacantLand)
	rental, _ := flows.For(model.PropertyRental)

	cases := []struct {
		flow    *Flow
		pending string
		text    string
		field   string
		want    string
	}{
		{land, "acreage", "about 5 acres", "acreage", "5"},
		{land, "acreage", "12.5", "acreage", "12.5"},
		{land, "price_expectation", "I'd want $45k for it", "price_expectation", "45000"},
		{land, "road_access", "it's 3 acres with a gravel road", "acreage", "3"},
		{rental, "rental_income", "$1,450 a month", "rental_income", "1450"},
	}
	for _, c := range cases {
		ext, err := KeywordExtractor{}.Extract(context.Background(), ExtractRequest{
			Flow:    c.flow,
			Intents: flows.Intents,
			Pending: c.flow.Field(c.pending),
			Text:    c.text,
		})
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if ext.Fields[c.field] != c.want {
			t.Errorf("%q: expected %s=%s, got %v", c.text, c.field, c.want, ext.Fields)
		}
	}
}

func TestKeywordExtractorIntents(t *testing.T) {
	flows, _ := DefaultFlows()
	flow, _ := flows.For(model.PropertyFixFlip)

	cases := map[string]Intent{
		"not interested":           IntentDecline,
		"call me tomorrow":         IntentReadyToBook,
		"that price is a lowball":  IntentObjection,
		"who is this":              IntentOffTopic,
		"it's vacant":              IntentAnswered,
		"my facebook is down":      IntentOffTopic,
	}
	for text, want := range cases {
		ext, _ := KeywordExtractor{}.Extract(context.Background(), ExtractRequest{
			Flow:    flow,
			Intents: flows.Intents,
			Pending: flow.Field("occupancy"),
			Text:    text,
		})
		if ext.Intent != want {
			t.Errorf("%q: expected %s, got %s", text, want, ext.Intent)
		}
	}
}
