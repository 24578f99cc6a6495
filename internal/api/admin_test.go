package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/modfin/kuvert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminAuth(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.ts.URL+"/admin/keys", nil)
	require.NoError(t, err)
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set("X-Admin-Token", "wrong")
	resp, err = h.ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateKeyReturnsSecretOnce(t *testing.T) {
	h := newHarness(t)

	resp := h.admin(t, http.MethodPost, "/admin/keys", map[string]interface{}{
		"name":             "billing service",
		"defaultFromEmail": "billing@example.com",
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	var created struct {
		Key struct {
			Id        string `json:"id"`
			Name      string `json:"name"`
			KeyPrefix string `json:"keyPrefix"`
		} `json:"key"`
		APIKey  string `json:"apiKey"`
		Message string `json:"message"`
	}
	resp.decode(t, &created)
	assert.Equal(t, "billing service", created.Key.Name)
	assert.True(t, strings.HasPrefix(created.APIKey, "kuvert_live_"))
	assert.True(t, strings.HasPrefix(created.APIKey, strings.TrimSuffix(created.Key.KeyPrefix, "...")))
	assert.Contains(t, created.Message, "not be shown again")

	// the raw secret authenticates and never appears in listings
	sendResp := h.do(t, http.MethodPost, "/v1/send", created.APIKey, kuvert.SendRequest{
		To:      []kuvert.Address{{Email: "to@example.com"}},
		Subject: "hello",
		Text:    "hi",
	})
	assert.Equal(t, http.StatusCreated, sendResp.status, "body: %s", sendResp.body)

	listResp := h.admin(t, http.MethodGet, "/admin/keys", nil)
	require.Equal(t, http.StatusOK, listResp.status)
	assert.NotContains(t, string(listResp.body), created.APIKey)
}

func TestCreateKeyValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.admin(t, http.MethodPost, "/admin/keys", map[string]interface{}{
		"name":             "",
		"defaultFromEmail": "not-an-email",
	})
	require.Equal(t, http.StatusBadRequest, resp.status)

	var kerr kuvert.Error
	resp.decode(t, &kerr)
	assert.Contains(t, kerr.Fields, "name")
	assert.Contains(t, kerr.Fields, "defaultFromEmail")
}

func TestUpdateKeyGeneratesWebhookSecret(t *testing.T) {
	h := newHarness(t)
	_, key := h.createTenant(t)

	resp := h.admin(t, http.MethodPatch, "/admin/keys/"+key.Id, map[string]interface{}{
		"webhookUrl":    "https://example.com/hooks",
		"webhookEvents": []string{"opened", "hardBounce", "not a real event"},
	})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	var updated struct {
		Key struct {
			WebhookURL    string   `json:"webhookUrl"`
			WebhookEvents []string `json:"webhookEvents"`
		} `json:"key"`
		WebhookSecret string `json:"webhookSecret"`
	}
	resp.decode(t, &updated)
	assert.Equal(t, "https://example.com/hooks", updated.Key.WebhookURL)
	assert.Equal(t, []string{"opened", "hard_bounce", "not_a_real_event"}, updated.Key.WebhookEvents)
	assert.True(t, strings.HasPrefix(updated.WebhookSecret, "whsec_"))

	// a second update without touching the secret does not rotate it
	resp = h.admin(t, http.MethodPatch, "/admin/keys/"+key.Id, map[string]interface{}{
		"name": "renamed",
	})
	require.Equal(t, http.StatusOK, resp.status)
	assert.NotContains(t, string(resp.body), "webhookSecret")

	stored, err := h.db.GetAppKeyById(key.Id)
	require.NoError(t, err)
	require.NotNil(t, stored.WebhookSecret)
	assert.Equal(t, updated.WebhookSecret, *stored.WebhookSecret)
	assert.Equal(t, "renamed", stored.Name)
}

func TestUpdateKeyValidation(t *testing.T) {
	h := newHarness(t)
	_, key := h.createTenant(t)

	resp := h.admin(t, http.MethodPatch, "/admin/keys/"+key.Id, map[string]interface{}{
		"webhookUrl": "not-a-url",
	})
	require.Equal(t, http.StatusBadRequest, resp.status)

	resp = h.admin(t, http.MethodPatch, "/admin/keys/no-such-id", map[string]interface{}{
		"name": "x",
	})
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestRevokeKeyEndpoint(t *testing.T) {
	h := newHarness(t)
	_, key := h.createTenant(t)

	resp := h.admin(t, http.MethodDelete, "/admin/keys/"+key.Id, nil)
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)

	// already revoked
	resp = h.admin(t, http.MethodDelete, "/admin/keys/"+key.Id, nil)
	assert.Equal(t, http.StatusNotFound, resp.status)

	// revocation shows up in the listing
	listResp := h.admin(t, http.MethodGet, "/admin/keys", nil)
	require.Equal(t, http.StatusOK, listResp.status)
	assert.Contains(t, string(listResp.body), "revokedAt")
}
