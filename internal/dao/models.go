package dao

import (
	"encoding/json"
	"time"

	"github.com/modfin/kuvert"
)

// AppKey is a tenant of the gateway. The raw secret is never stored, only
// its sha256 hash. KeyPrefix is the non-secret display prefix shown in
// listings.
type AppKey struct {
	Id        string `db:"id"`
	Name      string `db:"name"`
	KeyHash   string `db:"key_hash"`
	KeyPrefix string `db:"key_prefix"`

	DefaultFromName  *string `db:"default_from_name"`
	DefaultFromEmail *string `db:"default_from_email"`
	Tags             *string `db:"tags"` // JSON array

	WebhookURL    *string `db:"webhook_url"`
	WebhookSecret *string `db:"webhook_secret"`
	WebhookEvents *string `db:"webhook_events"` // JSON array, empty/null = all

	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}

func (k *AppKey) Revoked() bool {
	return k.RevokedAt != nil
}

// WebhookEventList decodes the configured event allow-list. Nil means all
// event types are forwarded.
func (k *AppKey) WebhookEventList() []string {
	if k.WebhookEvents == nil {
		return nil
	}
	var list []string
	_ = json.Unmarshal([]byte(*k.WebhookEvents), &list)
	return list
}

// Message is one durable record per send attempt.
type Message struct {
	Id       string `db:"id"`
	AppKeyId string `db:"app_key_id"`

	// ProviderMessageId is assigned by the provider, present only after
	// an accepted send.
	ProviderMessageId *string `db:"provider_message_id"`

	ToAddresses  string  `db:"to_addresses"` // JSON array of kuvert.Address
	CcAddresses  *string `db:"cc_addresses"`
	BccAddresses *string `db:"bcc_addresses"`
	FromEmail    string  `db:"from_email"`
	FromName     *string `db:"from_name"`

	Subject    *string `db:"subject"`
	TemplateId *int    `db:"template_id"`
	Tags       *string `db:"tags"` // JSON array

	Status           string  `db:"status"`
	ProviderResponse *string `db:"provider_response"` // raw provider blob

	IdempotencyKey *string   `db:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at"`
}

func (m *Message) To() []kuvert.Address {
	return decodeAddresses(&m.ToAddresses)
}
func (m *Message) Cc() []kuvert.Address {
	return decodeAddresses(m.CcAddresses)
}
func (m *Message) Bcc() []kuvert.Address {
	return decodeAddresses(m.BccAddresses)
}

func (m *Message) From() kuvert.Address {
	from := kuvert.Address{Email: m.FromEmail}
	if m.FromName != nil {
		from.Name = *m.FromName
	}
	return from
}

func (m *Message) TagList() []string {
	if m.Tags == nil {
		return nil
	}
	var tags []string
	_ = json.Unmarshal([]byte(*m.Tags), &tags)
	return tags
}

func decodeAddresses(raw *string) []kuvert.Address {
	if raw == nil {
		return nil
	}
	var addrs []kuvert.Address
	_ = json.Unmarshal([]byte(*raw), &addrs)
	return addrs
}

// Event is one provider-reported delivery event, append-only once
// ingested.
type Event struct {
	Id              string `db:"id"`
	AppKeyId        string `db:"app_key_id"`
	MessageRecordId string `db:"message_record_id"`

	ProviderMessageId *string `db:"provider_message_id"`

	EventType      string     `db:"event_type"`
	OccurredAt     *time.Time `db:"occurred_at"`
	RecipientEmail *string    `db:"recipient_email"`
	IP             *string    `db:"ip"`
	UserAgent      *string    `db:"user_agent"`

	ProviderPayload string    `db:"provider_payload"` // raw provider blob
	CreatedAt       time.Time `db:"created_at"`
}
