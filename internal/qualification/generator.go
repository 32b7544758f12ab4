package qualification

import (
	"context"
	"strings"

	"github.com/unclebandit/leadreach-backend/internal/model"
)

type MessageKind string

const (
	MessageInitial        MessageKind = "initial_outreach"
	MessageFollowUp       MessageKind = "follow_up"
	MessageQuestion       MessageKind = "question"
	MessageClarify        MessageKind = "clarify"
	MessageObjection      MessageKind = "objection"
	MessageNotInterested  MessageKind = "not_interested"
	MessageFutureInterest MessageKind = "future_interest"
)

// GenerateRequest describes the next outbound message. Fallback is the
// rendered template and is always a valid message on its own.
type GenerateRequest struct {
	Flow     *Flow
	Lead     *model.Lead
	Kind     MessageKind
	Field    *Field
	Inbound  string
	History  []model.Message
	Fallback string
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// TemplateGenerator returns the rendered template unchanged.
type TemplateGenerator struct{}

func (TemplateGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	return req.Fallback, nil
}

// RenderTemplate replaces {placeholders} with values from data.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return strings.TrimSpace(result)
}

// TemplateData is the placeholder set available to every flow template.
func TemplateData(lead *model.Lead, field *Field) map[string]string {
	first := lead.FirstName
	if first == "" {
		first = "there"
	}
	address := lead.PropertyAddress
	if address == "" {
		address = "your property"
	}
	data := map[string]string{
		"first_name":       first,
		"last_name":        lead.LastName,
		"property_address": address,
		"question":         "",
	}
	if field != nil {
		data["question"] = field.Question
	}
	return data
}
