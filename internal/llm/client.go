// Package llm backs qualification with a chat completion model.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"

	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
)

// maxReplyLength keeps generated replies inside one SMS segment chain.
const maxReplyLength = 1600

type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	BaseURL     string
	HTTPClient  *http.Client
}

// Client implements qualification.Extractor and qualification.Generator.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
}

func NewClient(cfg Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	return &Client{
		api:         openai.NewClient(opts...),
		model:       modelName,
		temperature: cfg.Temperature,
	}
}

// Extract asks the model for a JSON object and keeps only values the flow
// knows about. Retrying is the engine's job.
func (c *Client) Extract(ctx context.Context, req qualification.ExtractRequest) (qualification.Extraction, error) {
	content, err := c.complete(ctx, extractionPrompt(req), req.Text, 0, true)
	if err != nil {
		return qualification.Extraction{}, fmt.Errorf("extract: %w", err)
	}
	if !gjson.Valid(content) {
		return qualification.Extraction{}, fmt.Errorf("extract: model returned invalid JSON")
	}

	doc := gjson.Parse(content)
	out := qualification.Extraction{
		Intent:         qualification.Intent(strings.ToLower(doc.Get("intent").String())),
		FutureInterest: doc.Get("future_interest").Bool(),
		Objection:      doc.Get("objection").String(),
		Fields:         map[string]string{},
	}
	if !out.Intent.Valid() {
		return qualification.Extraction{}, fmt.Errorf("extract: unknown intent %q", out.Intent)
	}
	doc.Get("fields").ForEach(func(key, value gjson.Result) bool {
		if v, ok := acceptValue(req.Flow.Field(key.String()), value); ok {
			out.Fields[key.String()] = v
		}
		return true
	})
	return out, nil
}

// Generate rewrites the template reply in a conversational tone. The caller
// falls back to the template on error.
func (c *Client) Generate(ctx context.Context, req qualification.GenerateRequest) (string, error) {
	text, err := c.complete(ctx, generationPrompt(req), req.Inbound, c.temperature, false)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	text = strings.Trim(strings.TrimSpace(text), `"`)
	if len([]rune(text)) > maxReplyLength {
		return "", fmt.Errorf("generate: reply is %d characters", len([]rune(text)))
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float64, jsonMode bool) (string, error) {
	if strings.TrimSpace(user) == "" {
		user = "(no message)"
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// acceptValue rejects choice values outside the field's vocabulary unless the
// field also takes free text.
func acceptValue(field *qualification.Field, value gjson.Result) (string, bool) {
	if field == nil {
		return "", false
	}
	v := strings.TrimSpace(value.String())
	if v == "" || value.Type == gjson.Null {
		return "", false
	}
	switch field.Kind {
	case qualification.KindNumber:
		if value.Type == gjson.Number {
			return value.Raw, true
		}
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(v)
		if gjson.Parse(cleaned).Type == gjson.Number {
			return cleaned, true
		}
		return "", false
	default:
		for _, choice := range field.Values {
			if strings.EqualFold(choice.Value, v) {
				return choice.Value, true
			}
		}
		return v, field.FreeText
	}
}

func extractionPrompt(req qualification.ExtractRequest) string {
	var b strings.Builder
	b.WriteString("You classify a property owner's SMS reply to a real estate investor.\n")
	b.WriteString("Return a JSON object with keys: intent, fields, future_interest, objection.\n")
	b.WriteString("intent is one of: answered, off_topic, objection, decline, opt_out, ready_to_book.\n")
	b.WriteString("future_interest is true when a decline leaves the door open for later.\n")
	fmt.Fprintf(&b, "Property type: %s.\n", req.Flow.PropertyType)

	b.WriteString("Fields (only include those the reply states):\n")
	for _, f := range req.Flow.Fields {
		fmt.Fprintf(&b, "- %s: %s", f.Name, f.Question)
		switch {
		case f.Kind == qualification.KindNumber:
			b.WriteString(" [number]")
		case len(f.Values) > 0:
			values := make([]string, 0, len(f.Values))
			for _, v := range f.Values {
				values = append(values, v.Value)
			}
			fmt.Fprintf(&b, " [one of: %s", strings.Join(values, ", "))
			if f.FreeText {
				b.WriteString(", or a short description")
			}
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	if len(req.Flow.Objections) > 0 {
		keys := make([]string, 0, len(req.Flow.Objections))
		for _, o := range req.Flow.Objections {
			keys = append(keys, o.Key)
		}
		fmt.Fprintf(&b, "objection is one of: %s.\n", strings.Join(keys, ", "))
	}
	if req.Pending != nil {
		fmt.Fprintf(&b, "The last question asked was: %q (%s).\n", req.Pending.Question, req.Pending.Name)
	}
	if len(req.Known) > 0 {
		b.WriteString("Already known:")
		for k, v := range req.Known {
			fmt.Fprintf(&b, " %s=%s;", k, v)
		}
		b.WriteString("\n")
	}
	writeHistory(&b, req.History)
	return b.String()
}

func generationPrompt(req qualification.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("You are a friendly real estate investor texting a property owner.\n")
	b.WriteString("Rewrite the draft below so it reads naturally in reply to their last message. ")
	b.WriteString("Keep its meaning and any question it asks. Keep it under 320 characters. ")
	b.WriteString("Return only the message text.\n")
	fmt.Fprintf(&b, "Message type: %s.\n", req.Kind)
	if req.Lead != nil {
		fmt.Fprintf(&b, "Owner: %s. Property: %s.\n", req.Lead.FullName(), req.Lead.PropertyAddress)
	}
	fmt.Fprintf(&b, "Draft: %s\n", req.Fallback)
	writeHistory(&b, req.History)
	return b.String()
}

func writeHistory(b *strings.Builder, history []model.Message) {
	const keep = 6
	if len(history) > keep {
		history = history[len(history)-keep:]
	}
	if len(history) == 0 {
		return
	}
	b.WriteString("Recent conversation:\n")
	for _, m := range history {
		who := "Owner"
		if m.Direction == model.DirectionOutbound {
			who = "Investor"
		}
		fmt.Fprintf(b, "%s: %s\n", who, m.Content)
	}
}

var (
	_ qualification.Extractor = (*Client)(nil)
	_ qualification.Generator = (*Client)(nil)
)
