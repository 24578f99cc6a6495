package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/modfin/kuvert/internal/brevo"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/hooker"
	"github.com/modfin/kuvert/internal/keys"
	"github.com/modfin/kuvert/pkg/zid"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "test-admin-token"
const testWebhookToken = "test-webhook-token"

// fakeSender stands in for the provider. It records every request and can
// be primed to fail.
type fakeSender struct {
	mu       sync.Mutex
	calls    int
	lastReq  brevo.SendRequest
	fail     *brevo.Error
	response brevo.SendResponse
}

func (f *fakeSender) Send(ctx context.Context, req brevo.SendRequest) (brevo.SendResponse, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req

	if f.fail != nil {
		var raw []byte
		if !f.fail.Transport {
			raw, _ = json.Marshal(f.fail)
		}
		return brevo.SendResponse{}, raw, f.fail
	}

	resp := f.response
	if resp.MessageId == "" {
		resp.MessageId = "<provider-id@smtp-relay.example>"
	}
	raw, _ := json.Marshal(resp)
	return resp, raw, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSender) lastRequest() brevo.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

type harness struct {
	ts     *httptest.Server
	db     dao.DAO
	sender *fakeSender
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir, err := os.MkdirTemp("", "kuvert_api_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	db, err := dao.NewSQLite(filepath.Join(dir, "kuvert.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sender := &fakeSender{}
	server := New(context.Background(), Config{
		AdminToken:       testAdminToken,
		WebhookToken:     testWebhookToken,
		DefaultFromName:  "Kuvert",
		DefaultFromEmail: "noreply@kuvert.example",
	}, db, sender, hooker.New(nil), nil)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &harness{ts: ts, db: db, sender: sender}
}

// createTenant inserts an app key directly and returns the raw secret.
func (h *harness) createTenant(t *testing.T) (string, dao.AppKey) {
	t.Helper()
	secret := keys.NewSecret()
	key := dao.AppKey{
		Id:        zid.New().String(),
		Name:      "test tenant",
		KeyHash:   keys.Hash(secret),
		KeyPrefix: keys.Prefix(secret),
	}
	require.NoError(t, h.db.CreateAppKey(key))
	return secret, key
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(t *testing.T, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, into), "body: %s", r.body)
}

func (h *harness) do(t *testing.T, method, path, bearer string, payload interface{}) response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		switch p := payload.(type) {
		case string:
			body = bytes.NewBufferString(p)
		default:
			b, err := json.Marshal(payload)
			require.NoError(t, err)
			body = bytes.NewBuffer(b)
		}
	}

	req, err := http.NewRequest(method, h.ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, body: raw}
}

func (h *harness) admin(t *testing.T, method, path string, payload interface{}) response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequest(method, h.ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", testAdminToken)

	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, body: raw}
}
