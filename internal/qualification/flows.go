package qualification

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unclebandit/leadreach-backend/internal/model"
)

//go:embed flows.yaml
var defaultFlows []byte

type FieldKind string

const (
	KindChoice FieldKind = "choice"
	KindNumber FieldKind = "number"
)

// Choice is one normalized value of a choice field and the phrases that
// select it.
type Choice struct {
	Value    string
	Keywords []string
}

// Choices keeps the YAML mapping order, which decides precedence when a
// reply matches more than one value.
type Choices []Choice

func (c *Choices) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: values must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var keywords []string
		if err := node.Content[i+1].Decode(&keywords); err != nil {
			return fmt.Errorf("line %d: %w", node.Content[i+1].Line, err)
		}
		*c = append(*c, Choice{Value: node.Content[i].Value, Keywords: keywords})
	}
	return nil
}

type Field struct {
	Name     string    `yaml:"name"`
	Question string    `yaml:"question"`
	Kind     FieldKind `yaml:"kind"`
	Values   Choices   `yaml:"values"`
	FreeText bool      `yaml:"free_text"`
	Currency bool      `yaml:"currency"`
	Units    []string  `yaml:"units"`
}

type Objection struct {
	Key      string   `yaml:"key"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`
}

// Flow is the state machine for one property type: ordered required fields,
// reply templates and the status transition table.
type Flow struct {
	PropertyType     model.PropertyType                       `yaml:"-"`
	Transitions      map[model.LeadStatus][]model.LeadStatus `yaml:"transitions"`
	InitialOutreach  string                                   `yaml:"initial_outreach"`
	FollowUps        []string                                 `yaml:"follow_ups"`
	PendingFollowUp  string                                   `yaml:"pending_follow_up"`
	Ask              string                                   `yaml:"ask"`
	Clarify          string                                   `yaml:"clarify"`
	NotInterested    string                                   `yaml:"not_interested"`
	FutureInterest   string                                   `yaml:"future_interest"`
	DefaultObjection string                                   `yaml:"default_objection"`
	Objections       []Objection                              `yaml:"objections"`
	Fields           []Field                                  `yaml:"fields"`
	Reschedule       []string                                 `yaml:"reschedule"`
	SlotOffer        string                                   `yaml:"slot_offer"`
	SlotRetry        string                                   `yaml:"slot_retry"`
	SlotAmbiguous    string                                   `yaml:"slot_ambiguous"`
	Booked           string                                   `yaml:"booked"`
}

type IntentKeywords struct {
	Decline        []string `yaml:"decline"`
	FutureInterest []string `yaml:"future_interest"`
	ReadyToBook    []string `yaml:"ready_to_book"`
}

type Flows struct {
	Intents IntentKeywords               `yaml:"intents"`
	ByType  map[model.PropertyType]*Flow `yaml:"flows"`
}

// DefaultFlows parses the embedded definitions.
func DefaultFlows() (*Flows, error) {
	return ParseFlows(defaultFlows)
}

func ParseFlows(data []byte) (*Flows, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("qualification: flow definitions are empty")
	}
	var flows Flows
	if err := yaml.Unmarshal(data, &flows); err != nil {
		return nil, fmt.Errorf("qualification: decode flows: %w", err)
	}
	return flows.normalized()
}

func (f Flows) normalized() (*Flows, error) {
	for _, pt := range []model.PropertyType{model.PropertyFixFlip, model.PropertyRental, model.PropertyVacantLand} {
		if f.ByType[pt] == nil {
			return nil, fmt.Errorf("qualification: missing flow for %s", pt)
		}
	}
	for pt, flow := range f.ByType {
		if !pt.Valid() {
			return nil, fmt.Errorf("qualification: unknown property type %q", pt)
		}
		flow.PropertyType = pt
		if err := flow.validate(); err != nil {
			return nil, fmt.Errorf("qualification: %s: %w", pt, err)
		}
	}
	lower(f.Intents.Decline)
	lower(f.Intents.FutureInterest)
	lower(f.Intents.ReadyToBook)
	return &f, nil
}

func (f *Flow) validate() error {
	if len(f.Fields) == 0 {
		return fmt.Errorf("no fields")
	}
	if strings.TrimSpace(f.InitialOutreach) == "" || strings.TrimSpace(f.Clarify) == "" {
		return fmt.Errorf("initial_outreach and clarify are required")
	}
	if len(f.Transitions) == 0 {
		return fmt.Errorf("no transitions")
	}
	if f.SlotOffer == "" || f.SlotRetry == "" || f.SlotAmbiguous == "" || f.Booked == "" || len(f.Reschedule) == 0 {
		return fmt.Errorf("booking templates are required")
	}
	seen := map[string]bool{}
	for i := range f.Fields {
		field := &f.Fields[i]
		if field.Name == "" || field.Question == "" {
			return fmt.Errorf("field %d needs a name and a question", i)
		}
		if seen[field.Name] {
			return fmt.Errorf("duplicate field %q", field.Name)
		}
		seen[field.Name] = true
		switch field.Kind {
		case KindChoice:
			if len(field.Values) == 0 {
				return fmt.Errorf("choice field %q has no values", field.Name)
			}
			for j := range field.Values {
				lower(field.Values[j].Keywords)
			}
		case KindNumber:
			lower(field.Units)
		default:
			return fmt.Errorf("field %q has unknown kind %q", field.Name, field.Kind)
		}
	}
	for i := range f.Objections {
		lower(f.Objections[i].Keywords)
	}
	return nil
}

// For returns the flow of a property type.
func (f *Flows) For(pt model.PropertyType) (*Flow, error) {
	flow, ok := f.ByType[pt]
	if !ok {
		return nil, fmt.Errorf("qualification: no flow for property type %q", pt)
	}
	return flow, nil
}

// Allowed reports whether the table permits from -> to.
func (f *Flow) Allowed(from, to model.LeadStatus) bool {
	for _, next := range f.Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextField returns the first required field without a value, or nil when
// qualification is complete.
func (f *Flow) NextField(data map[string]string) *Field {
	idx := f.StageIndex(data)
	if idx >= len(f.Fields) {
		return nil
	}
	return &f.Fields[idx]
}

// StageIndex is the position of the first unfilled field. Fields are never
// cleared, so it only moves forward.
func (f *Flow) StageIndex(data map[string]string) int {
	for i, field := range f.Fields {
		if strings.TrimSpace(data[field.Name]) == "" {
			return i
		}
	}
	return len(f.Fields)
}

func (f *Flow) Complete(data map[string]string) bool {
	return f.StageIndex(data) == len(f.Fields)
}

func (f *Flow) Field(name string) *Field {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i]
		}
	}
	return nil
}

func lower(items []string) {
	for i := range items {
		items[i] = strings.ToLower(strings.TrimSpace(items[i]))
	}
}
