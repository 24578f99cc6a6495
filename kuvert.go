package kuvert

import (
	"fmt"
	"strings"
	"time"
)

// Address is a single recipient or sender identity.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

func AddressOf(email string) Address {
	return Address{Email: email}
}

func (a Address) String() string {
	if len(a.Name) == 0 {
		return a.Email
	}
	return fmt.Sprintf("\"%s\" <%s>", a.Name, a.Email)
}

// Attachment content is carried base64 encoded over the wire, as is.
type Attachment struct {
	Name          string `json:"name"`
	ContentBase64 string `json:"contentBase64"`
}

// SendRequest is the payload accepted by POST /v1/send.
//
// Either Subject plus one of Text/HTML must be set, or TemplateId must
// reference a provider-side template. Everything else is optional.
type SendRequest struct {
	To  []Address `json:"to"`
	Cc  []Address `json:"cc,omitempty"`
	Bcc []Address `json:"bcc,omitempty"`

	From    *Address `json:"from,omitempty"`
	ReplyTo *Address `json:"replyTo,omitempty"`

	Subject string `json:"subject,omitempty"`
	Text    string `json:"text,omitempty"`
	HTML    string `json:"html,omitempty"`

	TemplateId int                    `json:"templateId,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`

	Tags        []string     `json:"tags,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Template wraps the HTML content in one of the named gateway
	// styling templates before sending, see internal/styling.
	Template     string            `json:"template,omitempty"`
	TemplateData map[string]string `json:"templateData,omitempty"`
	InlineCss    *bool             `json:"inlineCss,omitempty"`

	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Receipt is the outcome of a send.
type Receipt struct {
	MessageId string `json:"messageId"`
	Status    string `json:"status"`
	Provider  string `json:"provider"`
	Cached    bool   `json:"cached,omitempty"`
}

// Message statuses. A status is a label with two guaranteed write points,
// pending at insert and queued/failed after the provider call resolves.
// Any status may later widen to opened, opened never reverts.
const (
	StatusPending = "pending"
	StatusQueued  = "queued"
	StatusFailed  = "failed"
	StatusOpened  = "opened"
)

// Routing tags embedded into every outgoing send. They are the only
// mechanism by which an account-wide provider webhook event can be
// attributed back to a tenant and a message.
const (
	TagPrefixAppKey  = "appKey:"
	TagPrefixMessage = "message:"
)

func AppKeyTag(appKeyId string) string {
	return TagPrefixAppKey + appKeyId
}

func MessageTag(messageId string) string {
	return TagPrefixMessage + messageId
}

// CutTag returns the value of the first tag carrying the given prefix.
func CutTag(tags []string, prefix string) (string, bool) {
	for _, t := range tags {
		if v, ok := strings.CutPrefix(t, prefix); ok && len(v) > 0 {
			return v, true
		}
	}
	return "", false
}

// MessageView is the representation returned by the message lookup
// endpoints. ProviderResponse is only populated in the detail view.
type MessageView struct {
	Id               string                 `json:"id"`
	MessageId        string                 `json:"messageId,omitempty"`
	To               []Address              `json:"to"`
	Cc               []Address              `json:"cc,omitempty"`
	Bcc              []Address              `json:"bcc,omitempty"`
	From             Address                `json:"from"`
	Subject          string                 `json:"subject,omitempty"`
	TemplateId       int                    `json:"templateId,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	Status           string                 `json:"status"`
	ProviderResponse map[string]interface{} `json:"providerResponse,omitempty"`
	IdempotencyKey   string                 `json:"idempotencyKey,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

type MessageList struct {
	Messages []MessageView `json:"messages"`
	Cursor   string        `json:"cursor,omitempty"`
}

// EventView is one entry of a message's delivery event log.
type EventView struct {
	Id             string     `json:"id"`
	Type           string     `json:"type"`
	OccurredAt     *time.Time `json:"occurredAt,omitempty"`
	RecipientEmail string     `json:"recipientEmail,omitempty"`
	IP             string     `json:"ip,omitempty"`
	UserAgent      string     `json:"userAgent,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type EventList struct {
	Message struct {
		Id        string `json:"id"`
		MessageId string `json:"messageId,omitempty"`
	} `json:"message"`
	Events []EventView `json:"events"`
}
