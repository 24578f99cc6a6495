package kuvert

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the canonical, lowercase/underscored vocabulary for
// provider delivery events. The provider reports the same category under
// several spellings, all of which collapse to one of these.
type EventType string

func (e EventType) String() string {
	return string(e)
}

// EventRequest the provider accepted the message for delivery.
const EventRequest EventType = "request"

// EventDelivered the message reached the receiving server.
const EventDelivered EventType = "delivered"

// EventOpened the recipient opened the message. The first occurrence also
// widens the message status to opened.
const EventOpened EventType = "opened"

// EventClicked the recipient clicked a tracked link.
const EventClicked EventType = "clicked"

// EventHardBounce the receiving server permanently rejected the message.
const EventHardBounce EventType = "hard_bounce"

// EventSoftBounce the receiving server temporarily rejected the message.
const EventSoftBounce EventType = "soft_bounce"

// EventBlocked the recipient address is on the provider's block list.
const EventBlocked EventType = "blocked"

// EventSpam the recipient marked the message as spam.
const EventSpam EventType = "spam"

// EventUnsubscribed the recipient used the subscription management link.
const EventUnsubscribed EventType = "unsubscribed"

// EventDeferred delivery is being retried by the provider.
const EventDeferred EventType = "deferred"

// EventInvalidEmail the recipient address failed provider validation.
const EventInvalidEmail EventType = "invalid_email"

// EventError the provider reported a generic processing error.
const EventError EventType = "error"

const EventUnknown EventType = "unknown"

var eventSynonyms = map[string]EventType{
	"request":       EventRequest,
	"sent":          EventRequest,
	"delivered":     EventDelivered,
	"delivery":      EventDelivered,
	"opened":        EventOpened,
	"open":          EventOpened,
	"unique_opened": EventOpened,
	"uniqueopened":  EventOpened,
	"proxy_open":    EventOpened,
	"first_opening": EventOpened,
	"firstopening":  EventOpened,
	"clicked":       EventClicked,
	"click":         EventClicked,
	"hard_bounce":   EventHardBounce,
	"hardbounce":    EventHardBounce,
	"soft_bounce":   EventSoftBounce,
	"softbounce":    EventSoftBounce,
	"bounce":        EventHardBounce,
	"bounced":       EventHardBounce,
	"blocked":       EventBlocked,
	"spam":          EventSpam,
	"complaint":     EventSpam,
	"unsubscribed":  EventUnsubscribed,
	"unsubscribe":   EventUnsubscribed,
	"deferred":      EventDeferred,
	"invalid_email": EventInvalidEmail,
	"invalid":       EventInvalidEmail,
	"error":         EventError,
}

// NormalizeEventType collapses a raw provider event label to the
// canonical vocabulary. Unknown labels pass through lowercased with
// spaces and dashes turned into underscores, the empty label becomes
// "unknown".
func NormalizeEventType(raw string) EventType {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	if s == "" {
		return EventUnknown
	}
	if canonical, ok := eventSynonyms[s]; ok {
		return canonical
	}
	return EventType(s)
}

// Headers carried on every signed event forward.
const (
	HeaderForwardTimestamp = "X-Kuvert-Timestamp"
	HeaderForwardSignature = "X-Kuvert-Signature"
	HeaderForwardEvent     = "X-Kuvert-Event"
)

// ForwardEnvelope is the JSON body POSTed to a tenant-configured webhook
// URL when a provider event for one of the tenant's messages is ingested.
type ForwardEnvelope struct {
	AppKeyId string         `json:"appKeyId"`
	Message  ForwardMessage `json:"message"`
	Event    ForwardEvent   `json:"event"`
}

type ForwardMessage struct {
	Id                string    `json:"id"`
	ProviderMessageId string    `json:"providerMessageId,omitempty"`
	Subject           string    `json:"subject,omitempty"`
	From              Address   `json:"from"`
	To                []Address `json:"to"`
	Tags              []string  `json:"tags,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

type ForwardEvent struct {
	Type              EventType       `json:"type"`
	OccurredAt        *time.Time      `json:"occurredAt,omitempty"`
	RecipientEmail    string          `json:"recipientEmail,omitempty"`
	IP                string          `json:"ip,omitempty"`
	UserAgent         string          `json:"userAgent,omitempty"`
	ProviderMessageId string          `json:"providerMessageId,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}
