package qualification

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/unclebandit/leadreach-backend/internal/model"
)

type Intent string

const (
	IntentAnswered    Intent = "answered"
	IntentOffTopic    Intent = "off_topic"
	IntentObjection   Intent = "objection"
	IntentDecline     Intent = "decline"
	IntentOptOut      Intent = "opt_out"
	IntentReadyToBook Intent = "ready_to_book"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentAnswered, IntentOffTopic, IntentObjection, IntentDecline, IntentOptOut, IntentReadyToBook:
		return true
	}
	return false
}

// ExtractRequest carries everything an extractor may use as context.
type ExtractRequest struct {
	Flow    *Flow
	Intents IntentKeywords
	Lead    *model.Lead
	Pending *Field
	Known   map[string]string
	Text    string
	History []model.Message
}

type Extraction struct {
	Intent         Intent            `json:"intent"`
	Fields         map[string]string `json:"fields"`
	FutureInterest bool              `json:"future_interest"`
	Objection      string            `json:"objection,omitempty"`
}

type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (Extraction, error)
}

// KeywordExtractor classifies replies with the phrase tables in the flow
// definitions. It needs no external service and is deterministic.
type KeywordExtractor struct{}

var numberPattern = regexp.MustCompile(`(\$)?\s?(\d[\d,]*(?:\.\d+)?)\s?(k|m|thousand|million)?\b`)

func (KeywordExtractor) Extract(_ context.Context, req ExtractRequest) (Extraction, error) {
	text := strings.ToLower(req.Text)
	out := Extraction{Fields: map[string]string{}}

	if containsAny(text, req.Intents.Decline) {
		out.Intent = IntentDecline
		out.FutureInterest = containsAny(text, req.Intents.FutureInterest)
		return out, nil
	}
	if containsAny(text, req.Intents.FutureInterest) {
		out.Intent = IntentDecline
		out.FutureInterest = true
		return out, nil
	}

	for _, field := range req.Flow.Fields {
		if v, ok := matchField(field, text, req.Pending); ok {
			out.Fields[field.Name] = v
		}
	}
	if req.Pending != nil && req.Pending.FreeText && out.Fields[req.Pending.Name] == "" && wordCount(text) >= 2 &&
		!containsAny(text, req.Intents.ReadyToBook) && objectionFor(req.Flow, text) == "" {
		out.Fields[req.Pending.Name] = strings.TrimSpace(req.Text)
	}

	switch {
	case len(out.Fields) > 0:
		out.Intent = IntentAnswered
	case containsAny(text, req.Intents.ReadyToBook):
		out.Intent = IntentReadyToBook
	case objectionFor(req.Flow, text) != "":
		out.Intent = IntentObjection
		out.Objection = objectionFor(req.Flow, text)
	default:
		out.Intent = IntentOffTopic
	}
	return out, nil
}

func matchField(field Field, text string, pending *Field) (string, bool) {
	switch field.Kind {
	case KindChoice:
		for _, choice := range field.Values {
			if containsAny(text, choice.Keywords) {
				return choice.Value, true
			}
		}
	case KindNumber:
		isPending := pending != nil && pending.Name == field.Name
		for _, m := range numberPattern.FindAllStringSubmatchIndex(text, -1) {
			value, ok := parseAmount(text[m[4]:m[5]], submatch(text, m, 3))
			if !ok {
				continue
			}
			marked := submatch(text, m, 1) != "" || submatch(text, m, 3) != ""
			unit := nextWord(text[m[1]:])
			switch {
			case len(field.Units) > 0 && containsWord(field.Units, unit):
				return value, true
			case field.Currency && marked:
				return value, true
			case isPending && !marked:
				return value, true
			}
		}
	}
	return "", false
}

func objectionFor(flow *Flow, text string) string {
	for _, o := range flow.Objections {
		if containsAny(text, o.Keywords) {
			return o.Key
		}
	}
	return ""
}

func parseAmount(digits, suffix string) (string, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return "", false
	}
	switch suffix {
	case "k", "thousand":
		f *= 1_000
	case "m", "million":
		f *= 1_000_000
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func submatch(text string, m []int, group int) string {
	if m[2*group] < 0 {
		return ""
	}
	return text[m[2*group]:m[2*group+1]]
}

func nextWord(rest string) string {
	rest = strings.TrimLeft(rest, " /-")
	end := strings.IndexFunc(rest, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// containsAny matches phrases at a word start, so "leak" finds "leaks" but
// "ac" does not find "back".
func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(text[from:], p)
			if i < 0 {
				break
			}
			at := from + i
			if at == 0 || !isWordRune(rune(text[at-1])) {
				return true
			}
			from = at + 1
		}
	}
	return false
}

func containsWord(words []string, w string) bool {
	for _, candidate := range words {
		if candidate == w {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
