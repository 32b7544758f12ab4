package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/model"
)

const maxSMSLength = 1600

// TelnyxSMS sends text messages through the Telnyx messaging API.
type TelnyxSMS struct {
	APIKey  string
	From    string
	BaseURL string
	Client  *http.Client
}

func NewTelnyxSMS(apiKey, from, baseURL string, client *http.Client) *TelnyxSMS {
	if client == nil {
		client = http.DefaultClient
	}
	return &TelnyxSMS{APIKey: apiKey, From: from, BaseURL: baseURL, Client: client}
}

func (t *TelnyxSMS) Channel() model.Channel { return model.ChannelSMS }

func (t *TelnyxSMS) Send(ctx context.Context, env Envelope) (Receipt, error) {
	if utf8.RuneCountInString(env.Body) > maxSMSLength {
		return Receipt{}, appErrors.NewTransportPermanent(string(model.ChannelSMS), "message_too_long",
			fmt.Errorf("message has %d characters, max %d", utf8.RuneCountInString(env.Body), maxSMSLength))
	}

	payload, err := json.Marshal(map[string]string{
		"from": t.From,
		"to":   env.To,
		"text": env.Body,
	})
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return Receipt{}, classifyRequestErr(model.ChannelSMS, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, classifyRequestErr(model.ChannelSMS, err)
	}
	if err := classifyStatus(model.ChannelSMS, resp.StatusCode, telnyxErrorDetail(body)); err != nil {
		return Receipt{}, err
	}

	return Receipt{
		ProviderMessageID: gjson.GetBytes(body, "data.id").String(),
		Status:            gjson.GetBytes(body, "data.to.0.status").String(),
	}, nil
}

// telnyxErrorDetail pulls the first error detail out of a Telnyx error body.
func telnyxErrorDetail(body []byte) string {
	if detail := gjson.GetBytes(body, "errors.0.detail"); detail.Exists() {
		return detail.String()
	}
	if title := gjson.GetBytes(body, "errors.0.title"); title.Exists() {
		return title.String()
	}
	return string(body)
}
