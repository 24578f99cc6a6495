// Package brevo is the client for the upstream transactional email
// provider. Transport-level failures are surfaced as retryable upstream
// errors, provider-rejected payloads are not retryable and preserve the
// provider's error code.
package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendPath = "/v3/smtp/email"

// ErrInvalidConfig is returned when the client is constructed without the
// required credentials.
var ErrInvalidConfig = errors.New("brevo: invalid config")

type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

// SendRequest mirrors the provider's transactional send payload.
type SendRequest struct {
	Sender      Recipient              `json:"sender"`
	To          []Recipient            `json:"to"`
	Cc          []Recipient            `json:"cc,omitempty"`
	Bcc         []Recipient            `json:"bcc,omitempty"`
	ReplyTo     *Recipient             `json:"replyTo,omitempty"`
	Subject     string                 `json:"subject,omitempty"`
	HTMLContent string                 `json:"htmlContent,omitempty"`
	TextContent string                 `json:"textContent,omitempty"`
	TemplateId  int                    `json:"templateId,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Attachment  []Attachment           `json:"attachment,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

type SendResponse struct {
	MessageId  string   `json:"messageId"`
	MessageIds []string `json:"messageIds,omitempty"`
}

// Error is a provider rejection, carrying the provider's own code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Transport marks failures where no provider response was received.
	// These are retryable by the caller.
	Transport bool `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("brevo: %s: %s", e.Code, e.Message)
}

// Sender is the consumed provider send interface.
type Sender interface {
	// Send returns the provider response on success. On failure the raw
	// response body, when one was received, is returned alongside the
	// error so the caller can persist it.
	Send(ctx context.Context, req SendRequest) (resp SendResponse, raw []byte, err error)
}

type Config struct {
	APIKey  string
	BaseURL string        // defaults to https://api.brevo.com
	Timeout time.Duration // defaults to 10s
}

func New(cfg Config) (Sender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: APIKey is required", ErrInvalidConfig)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.brevo.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func (c *client) Send(ctx context.Context, sendReq SendRequest) (SendResponse, []byte, error) {

	body, err := json.Marshal(sendReq)
	if err != nil {
		return SendResponse{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewBuffer(body))
	if err != nil {
		return SendResponse{}, nil, err
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// No response from the provider at all.
		return SendResponse{}, nil, &Error{
			Code:      "NETWORK_ERROR",
			Message:   err.Error(),
			Transport: true,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SendResponse{}, nil, &Error{
			Code:      "NETWORK_ERROR",
			Message:   err.Error(),
			Transport: true,
		}
	}

	if resp.StatusCode >= 400 {
		provErr := &Error{Code: "BREVO_ERROR", Message: "Unknown error from Brevo"}
		var decoded Error
		if err := json.Unmarshal(raw, &decoded); err == nil {
			if decoded.Code != "" {
				provErr.Code = decoded.Code
			}
			if decoded.Message != "" {
				provErr.Message = decoded.Message
			}
		}
		return SendResponse{}, raw, provErr
	}

	var out SendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return SendResponse{}, raw, &Error{
			Code:    "BAD_RESPONSE",
			Message: fmt.Sprintf("could not decode provider response, %v", err),
		}
	}
	if out.MessageId == "" && len(out.MessageIds) > 0 {
		out.MessageId = out.MessageIds[0]
	}
	return out, raw, nil
}
