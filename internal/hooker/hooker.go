// Package hooker forwards ingested provider events to tenant-configured
// webhook URLs. Forwarding is best effort, a failed or timed-out forward
// never affects the ingestion outcome.
package hooker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/modfin/henry/slicez"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/tools"
	"github.com/sirupsen/logrus"
)

// ForwardTimeout is the hard deadline for one outbound forward call.
const ForwardTimeout = 5 * time.Second

func New(lc *tools.Logger) *Hooker {
	logger := logrus.New()
	if lc != nil {
		logger = lc.New("hooker")
	}
	return &Hooker{
		log:  logger,
		http: &http.Client{Timeout: ForwardTimeout},
	}
}

type Hooker struct {
	log  *logrus.Logger
	http *http.Client
}

// ShouldForward reports whether the key has forwarding configured and the
// event type passes its allow-list. An empty allow-list admits all types.
func ShouldForward(key *dao.AppKey, eventType kuvert.EventType) bool {
	if key.WebhookURL == nil || *key.WebhookURL == "" {
		return false
	}
	if key.WebhookSecret == nil || *key.WebhookSecret == "" {
		return false
	}
	allowed := key.WebhookEventList()
	if len(allowed) == 0 {
		return true
	}
	return slicez.Contains(allowed, eventType.String())
}

// Sign computes the hex-encoded HMAC-SHA256 over "{timestamp}.{body}".
func Sign(body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", timestamp, body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Forward delivers one signed event envelope to the key's webhook URL.
// The returned error is informational, callers log it and move on.
func (h *Hooker) Forward(ctx context.Context, key *dao.AppKey, msg *dao.Message, event kuvert.ForwardEvent) error {

	envelope := kuvert.ForwardEnvelope{
		AppKeyId: key.Id,
		Message: kuvert.ForwardMessage{
			Id:        msg.Id,
			Subject:   deref(msg.Subject),
			From:      msg.From(),
			To:        msg.To(),
			Tags:      msg.TagList(),
			CreatedAt: msg.CreatedAt,
		},
		Event: event,
	}
	if msg.ProviderMessageId != nil {
		envelope.Message.ProviderMessageId = *msg.ProviderMessageId
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("could not marshal forward envelope, %w", err)
	}

	timestamp := time.Now().Unix()
	signature := Sign(body, *key.WebhookSecret, timestamp)

	ctx, cancel := context.WithTimeout(ctx, ForwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *key.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("could not create forward request, %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(kuvert.HeaderForwardTimestamp, fmt.Sprint(timestamp))
	req.Header.Set(kuvert.HeaderForwardSignature, signature)
	req.Header.Set(kuvert.HeaderForwardEvent, event.Type.String())
	req.Header.Set("X-Kuvert-Delivery", uuid.New().String())

	resp, err := h.http.Do(req)
	if err != nil {
		h.log.WithError(err).
			WithField("app_key_id", key.Id).
			Warn("event forward failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err = fmt.Errorf("forward target returned status %d", resp.StatusCode)
		h.log.WithError(err).
			WithField("app_key_id", key.Id).
			Warn("event forward rejected")
		return err
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
