package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/hooker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sendMessage pushes one message through the send pipeline and returns
// its stored row.
func (h *harness) sendMessage(t *testing.T, secret string, key dao.AppKey) *dao.Message {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/v1/send", secret, kuvert.SendRequest{
		To:      []kuvert.Address{{Email: "to@example.com"}},
		Subject: "hello",
		Text:    "hi",
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	messages, _, err := h.db.ListMessages(key.Id, 1, nil)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	return &messages[0]
}

func webhookPath(token string) string {
	return "/webhooks/brevo?token=" + token
}

func TestWebhookTokenGate(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/webhooks/brevo", "", `{}`)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = h.do(t, http.MethodPost, webhookPath("wrong-token"), "", `{}`)
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestWebhookUnconfiguredReturns503(t *testing.T) {
	dir := t.TempDir()
	db, err := dao.NewSQLite(dir + "/kuvert.sqlite")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	server := New(context.Background(), Config{}, db, &fakeSender{}, hooker.New(nil), nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	resp, err := http.Post(ts.URL+"/webhooks/brevo?token=anything", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebhookBatchIngestion(t *testing.T) {
	h := newHarness(t)
	secret, key := h.createTenant(t)
	msg := h.sendMessage(t, secret, key)

	batch := fmt.Sprintf(`[
		{"event":"delivered","email":"to@example.com","tags":["appKey:%s","message:%s"],"date":"2026-08-30T12:00:00Z"},
		{"event":"click","email":"to@example.com","tags":["appKey:%s","message:%s"],"ts_epoch":1788091200000},
		{"event":"delivered","email":"other@example.com","tags":["newsletter"]}
	]`, key.Id, msg.Id, key.Id, msg.Id)

	resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", batch)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var result ingestResult
	resp.decode(t, &result)
	assert.True(t, result.OK)
	assert.Equal(t, 2, result.Ingested)
	assert.Equal(t, 1, result.Ignored)

	events, err := h.db.ListEvents(key.Id, msg.Id, 100)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "delivered", events[0].EventType)
	assert.Equal(t, "clicked", events[1].EventType)
	require.NotNil(t, events[0].OccurredAt)
	require.NotNil(t, events[1].OccurredAt)
	assert.Equal(t, events[0].OccurredAt.Unix(), events[1].OccurredAt.Unix())
}

func TestWebhookSingleObjectIsBatchOfOne(t *testing.T) {
	h := newHarness(t)
	secret, key := h.createTenant(t)
	msg := h.sendMessage(t, secret, key)

	payload := fmt.Sprintf(`{"event":"hardBounce","email":"to@example.com","tags":["appKey:%s","message:%s"]}`, key.Id, msg.Id)
	resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", payload)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var result ingestResult
	resp.decode(t, &result)
	assert.Equal(t, 1, result.Ingested)

	events, err := h.db.ListEvents(key.Id, msg.Id, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "hard_bounce", events[0].EventType)
}

func TestWebhookTagForgeryIsIgnored(t *testing.T) {
	h := newHarness(t)
	secretA, keyA := h.createTenant(t)
	_, keyB := h.createTenant(t)
	msg := h.sendMessage(t, secretA, keyA)

	// event references keyA's message but claims to belong to keyB
	payload := fmt.Sprintf(`{"event":"delivered","tags":["appKey:%s","message:%s"]}`, keyB.Id, msg.Id)
	resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", payload)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var result ingestResult
	resp.decode(t, &result)
	assert.Equal(t, 0, result.Ingested)
	assert.Equal(t, 1, result.Ignored)

	events, err := h.db.ListEvents(keyA.Id, msg.Id, 100)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWebhookUnknownMessageIsIgnored(t *testing.T) {
	h := newHarness(t)
	_, key := h.createTenant(t)

	payload := fmt.Sprintf(`{"event":"delivered","tags":["appKey:%s","message:no-such-id"]}`, key.Id)
	resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", payload)
	require.Equal(t, http.StatusOK, resp.status)

	var result ingestResult
	resp.decode(t, &result)
	assert.Equal(t, 1, result.Ignored)
}

func TestWebhookOpenedDedup(t *testing.T) {
	h := newHarness(t)
	secret, key := h.createTenant(t)
	msg := h.sendMessage(t, secret, key)

	// tenant webhook target, counts deliveries
	var mu sync.Mutex
	var forwarded []string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		mu.Lock()
		forwarded = append(forwarded, r.Header.Get(kuvert.HeaderForwardEvent))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	stored, err := h.db.GetAppKeyById(key.Id)
	require.NoError(t, err)
	url := target.URL
	whSecret := "whsec_test"
	stored.WebhookURL = &url
	stored.WebhookSecret = &whSecret
	require.NoError(t, h.db.UpdateAppKey(stored))

	opened := fmt.Sprintf(`{"event":"opened","email":"to@example.com","tags":["appKey:%s","message:%s"]}`, key.Id, msg.Id)

	for i := 0; i < 2; i++ {
		resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", opened)
		require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

		var result ingestResult
		resp.decode(t, &result)
		assert.Equal(t, 1, result.Ingested, "repeat opens are still ingested")
	}

	// both events are in the log
	events, err := h.db.ListEvents(key.Id, msg.Id, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// the status widened exactly once and stays opened
	got, err := h.db.GetMessageById(msg.Id)
	require.NoError(t, err)
	assert.Equal(t, kuvert.StatusOpened, got.Status)

	// only the first open is forwarded
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"opened"}, forwarded)
}

func TestWebhookForwardAllowList(t *testing.T) {
	h := newHarness(t)
	secret, key := h.createTenant(t)
	msg := h.sendMessage(t, secret, key)

	var mu sync.Mutex
	var forwarded []string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		forwarded = append(forwarded, r.Header.Get(kuvert.HeaderForwardEvent))
		mu.Unlock()
	}))
	t.Cleanup(target.Close)

	stored, err := h.db.GetAppKeyById(key.Id)
	require.NoError(t, err)
	url := target.URL
	whSecret := "whsec_test"
	allowList := `["hard_bounce"]`
	stored.WebhookURL = &url
	stored.WebhookSecret = &whSecret
	stored.WebhookEvents = &allowList
	require.NoError(t, h.db.UpdateAppKey(stored))

	for _, event := range []string{"delivered", "hardBounce"} {
		payload := fmt.Sprintf(`{"event":%q,"tags":["appKey:%s","message:%s"]}`, event, key.Id, msg.Id)
		resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", payload)
		require.Equal(t, http.StatusOK, resp.status)
	}

	events, err := h.db.ListEvents(key.Id, msg.Id, 100)
	require.NoError(t, err)
	assert.Len(t, events, 2, "both events are ingested regardless of the allow-list")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hard_bounce"}, forwarded)
}

func TestWebhookMalformedBody(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, webhookPath(testWebhookToken), "", `not json at all`)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}
