package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/hooker"
	"github.com/modfin/kuvert/internal/metrics"
	"github.com/modfin/kuvert/pkg/zid"
)

type ingestResult struct {
	OK       bool `json:"ok"`
	Ingested int  `json:"ingested"`
	Ignored  int  `json:"ignored"`
}

// ingestWebhook receives the provider's account-wide event webhook. Each
// event is processed independently, a single malformed event never aborts
// the batch. Only whole-batch auth failures abort early.
func (s *Server) ingestWebhook(c echo.Context) error {

	if s.cfg.WebhookToken == "" {
		return kuvert.ServiceUnavailable("webhook is not configured")
	}
	token := c.QueryParam("token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WebhookToken)) != 1 {
		return kuvert.Forbidden("invalid webhook token")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return kuvert.Validation(map[string]string{"body": "could not read request body"})
	}

	events, err := normalizeBatch(body)
	if err != nil {
		return kuvert.Validation(map[string]string{"body": "body must be a JSON object or array of objects"})
	}

	var result ingestResult
	result.OK = true
	for _, raw := range events {
		if s.ingestOne(c, raw) {
			result.Ingested++
			metrics.WebhookEvents.WithLabelValues("ingested").Inc()
		} else {
			result.Ignored++
			metrics.WebhookEvents.WithLabelValues("ignored").Inc()
		}
	}

	return c.JSON(http.StatusOK, result)
}

// normalizeBatch turns the inbound payload into a list of individual
// event objects, a single object is a batch of one.
func normalizeBatch(body []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var batch []json.RawMessage
		err := json.Unmarshal(body, &batch)
		return batch, err
	}
	var single json.RawMessage
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []json.RawMessage{single}, nil
}

// ingestOne processes a single provider event, returns true when it was
// ingested and false when ignored. Failures are swallowed per event.
func (s *Server) ingestOne(c echo.Context, raw json.RawMessage) (ingested bool) {

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return false
	}

	tags := normalizeTags(payload["tags"], payload["tag"])
	appKeyId, okApp := kuvert.CutTag(tags, kuvert.TagPrefixAppKey)
	messageId, okMsg := kuvert.CutTag(tags, kuvert.TagPrefixMessage)
	if !okApp || !okMsg {
		// not originated by this gateway
		return false
	}

	msg, err := s.db.GetMessageById(messageId)
	if err != nil {
		return false
	}
	if msg.AppKeyId != appKeyId {
		// tag forgery or stale reference
		s.log.WithField("message_id", messageId).
			WithField("claimed_app_key", appKeyId).
			Warn("webhook event app key does not own referenced message")
		return false
	}

	providerMessageId := pickString(payload, "messageId", "message-id", "message_id", "Message-Id", "message-id-string")
	eventType := kuvert.NormalizeEventType(pickString(payload, "event", "type", "eventType"))
	occurredAt := pickTime(payload, "date", "timestamp", "event_date", "occurredAt", "ts_event", "ts_epoch")
	recipient := pickString(payload, "email", "recipient", "to")
	ip := pickString(payload, "ip", "ipAddress", "sending_ip")
	userAgent := pickString(payload, "userAgent", "user-agent", "user_agent")

	event := dao.Event{
		Id:                zid.New().String(),
		AppKeyId:          msg.AppKeyId,
		MessageRecordId:   msg.Id,
		ProviderMessageId: optString(providerMessageId),
		EventType:         eventType.String(),
		OccurredAt:        occurredAt,
		RecipientEmail:    optString(recipient),
		IP:                optString(ip),
		UserAgent:         optString(userAgent),
		ProviderPayload:   string(raw),
	}

	if err := s.db.InsertEvent(event); err != nil {
		s.log.WithError(err).WithField("message_id", msg.Id).Error("failed to persist event")
		return false
	}

	// One-way widening to opened. The conditional update in the store is
	// the arbiter, repeats never re-trigger the transition.
	firstOpen := false
	if eventType == kuvert.EventOpened {
		firstOpen, err = s.db.ClaimOpened(msg.Id)
		if err != nil {
			s.log.WithError(err).WithField("message_id", msg.Id).Error("failed to claim opened status")
		}
	}

	s.forward(c, msg, event, eventType, firstOpen, raw)

	return true
}

// forward relays the event to the tenant's webhook when configured.
// Repeat opened events are never forwarded, the first-open dedup covers
// notification as well as status.
func (s *Server) forward(c echo.Context, msg *dao.Message, event dao.Event, eventType kuvert.EventType, firstOpen bool, raw json.RawMessage) {
	if eventType == kuvert.EventOpened && !firstOpen {
		return
	}

	key, err := s.db.GetAppKeyById(msg.AppKeyId)
	if err != nil {
		s.log.WithError(err).WithField("app_key_id", msg.AppKeyId).Error("could not load app key for forwarding")
		return
	}
	if !hooker.ShouldForward(key, eventType) {
		return
	}

	forwardEvent := kuvert.ForwardEvent{
		Type:              eventType,
		OccurredAt:        event.OccurredAt,
		RecipientEmail:    deref(event.RecipientEmail),
		IP:                deref(event.IP),
		UserAgent:         deref(event.UserAgent),
		ProviderMessageId: deref(event.ProviderMessageId),
		Payload:           raw,
	}

	err = s.hooker.Forward(c.Request().Context(), key, msg, forwardEvent)
	if err != nil {
		metrics.Forwards.WithLabelValues("error").Inc()
		return
	}
	metrics.Forwards.WithLabelValues("ok").Inc()
}

// normalizeTags tolerates the tag field appearing as a single string, a
// list, or not at all.
func normalizeTags(candidates ...interface{}) []string {
	for _, v := range candidates {
		switch t := v.(type) {
		case string:
			return []string{t}
		case []interface{}:
			var tags []string
			for _, e := range t {
				if s, ok := e.(string); ok {
					tags = append(tags, s)
				}
			}
			return tags
		}
	}
	return nil
}

// pickString tries the keys in priority order, returning the first
// non-empty string value.
func pickString(payload map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// pickTime tries the keys in priority order, parsing the first value that
// yields a timestamp. Unparseable values yield nil rather than failing
// the event.
func pickTime(payload map[string]interface{}, keys ...string) *time.Time {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok {
			continue
		}
		if t := parseWhen(v); t != nil {
			return t
		}
	}
	return nil
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds,
// numeric values below it are seconds.
const epochMillisThreshold = 10_000_000_000

func parseWhen(v interface{}) *time.Time {
	switch when := v.(type) {
	case string:
		trimmed := strings.TrimSpace(when)
		if trimmed == "" {
			return nil
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
		} {
			if t, err := time.Parse(layout, trimmed); err == nil {
				t = t.UTC()
				return &t
			}
		}
		return nil
	case float64:
		ms := int64(when)
		if ms < epochMillisThreshold {
			ms = ms * 1000
		}
		t := time.UnixMilli(ms).UTC()
		return &t
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
