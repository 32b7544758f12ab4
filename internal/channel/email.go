package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/unclebandit/leadreach-backend/internal/model"
)

const defaultSubject = "About your property"

// HTTPEmail sends plain-text email through a Resend-compatible API.
type HTTPEmail struct {
	APIKey  string
	From    string
	BaseURL string
	Client  *http.Client
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func NewHTTPEmail(apiKey, from, baseURL string, client *http.Client) *HTTPEmail {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEmail{APIKey: apiKey, From: from, BaseURL: baseURL, Client: client}
}

func (e *HTTPEmail) Channel() model.Channel { return model.ChannelEmail }

func (e *HTTPEmail) Send(ctx context.Context, env Envelope) (Receipt, error) {
	subject := env.Subject
	if subject == "" {
		subject = defaultSubject
	}
	payload, err := json.Marshal(emailRequest{
		From:    e.From,
		To:      []string{env.To},
		Subject: subject,
		Text:    env.Body,
	})
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return Receipt{}, classifyRequestErr(model.ChannelEmail, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, classifyRequestErr(model.ChannelEmail, err)
	}
	detail := gjson.GetBytes(body, "message").String()
	if detail == "" {
		detail = string(body)
	}
	if err := classifyStatus(model.ChannelEmail, resp.StatusCode, detail); err != nil {
		return Receipt{}, err
	}
	return Receipt{ProviderMessageID: gjson.GetBytes(body, "id").String(), Status: "sent"}, nil
}
