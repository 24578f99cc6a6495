package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/keys"
	"github.com/modfin/kuvert/pkg/zid"
	"github.com/modfin/kuvert/tools"
)

type keyView struct {
	Id               string     `json:"id"`
	Name             string     `json:"name"`
	KeyPrefix        string     `json:"keyPrefix"`
	DefaultFromName  string     `json:"defaultFromName,omitempty"`
	DefaultFromEmail string     `json:"defaultFromEmail,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	WebhookURL       string     `json:"webhookUrl,omitempty"`
	WebhookEvents    []string   `json:"webhookEvents,omitempty"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func toKeyView(k *dao.AppKey) keyView {
	view := keyView{
		Id:        k.Id,
		Name:      k.Name,
		KeyPrefix: k.KeyPrefix,
		RevokedAt: k.RevokedAt,
		CreatedAt: k.CreatedAt,
	}
	view.DefaultFromName = deref(k.DefaultFromName)
	view.DefaultFromEmail = deref(k.DefaultFromEmail)
	view.WebhookURL = deref(k.WebhookURL)
	if k.Tags != nil {
		view.Tags = decodeStrings(*k.Tags)
	}
	view.WebhookEvents = k.WebhookEventList()
	return view
}

func decodeStrings(raw string) []string {
	var list []string
	_ = json.Unmarshal([]byte(raw), &list)
	return list
}

func (s *Server) createKey(c echo.Context) error {

	var req struct {
		Name             string   `json:"name"`
		DefaultFromName  string   `json:"defaultFromName"`
		DefaultFromEmail string   `json:"defaultFromEmail"`
		Tags             []string `json:"tags"`
	}
	if err := c.Bind(&req); err != nil {
		return kuvert.Validation(map[string]string{"body": "could not parse request body"})
	}

	violations := map[string]string{}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		violations["name"] = "name is required"
	}
	if len(req.Name) > 100 {
		violations["name"] = "name too long"
	}
	if req.DefaultFromEmail != "" && !tools.ValidEmail(req.DefaultFromEmail) {
		violations["defaultFromEmail"] = "not a valid email address"
	}
	if len(violations) > 0 {
		return kuvert.Validation(violations)
	}

	// The raw secret is returned here and never again.
	secret := keys.NewSecret()

	key := dao.AppKey{
		Id:               zid.New().String(),
		Name:             req.Name,
		KeyHash:          keys.Hash(secret),
		KeyPrefix:        keys.Prefix(secret),
		DefaultFromName:  optString(req.DefaultFromName),
		DefaultFromEmail: optString(req.DefaultFromEmail),
		Tags:             encodeOpt(req.Tags),
	}
	if err := s.db.CreateAppKey(key); err != nil {
		return err
	}

	view := toKeyView(&key)
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"key":     view,
		"apiKey":  secret,
		"message": "Save this API key now. It will not be shown again.",
	})
}

func (s *Server) listKeys(c echo.Context) error {
	list, err := s.db.ListAppKeys()
	if err != nil {
		return err
	}
	views := []keyView{}
	for i := range list {
		views = append(views, toKeyView(&list[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"keys": views})
}

func (s *Server) updateKey(c echo.Context) error {

	key, err := s.db.GetAppKeyById(c.Param("id"))
	if errors.Is(err, dao.ErrNotFound) {
		return kuvert.NotFound("app key not found")
	}
	if err != nil {
		return err
	}

	// Pointer fields distinguish "absent" from "clear".
	var req struct {
		Name             *string   `json:"name"`
		DefaultFromName  *string   `json:"defaultFromName"`
		DefaultFromEmail *string   `json:"defaultFromEmail"`
		Tags             *[]string `json:"tags"`
		WebhookURL       *string   `json:"webhookUrl"`
		WebhookSecret    *string   `json:"webhookSecret"`
		WebhookEvents    *[]string `json:"webhookEvents"`
	}
	if err := c.Bind(&req); err != nil {
		return kuvert.Validation(map[string]string{"body": "could not parse request body"})
	}

	violations := map[string]string{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			violations["name"] = "name must be a non-empty string"
		} else {
			key.Name = name
		}
	}
	if req.DefaultFromEmail != nil {
		email := strings.TrimSpace(*req.DefaultFromEmail)
		if email != "" && !tools.ValidEmail(email) {
			violations["defaultFromEmail"] = "not a valid email address"
		} else {
			key.DefaultFromEmail = optString(email)
		}
	}
	if req.DefaultFromName != nil {
		key.DefaultFromName = optString(strings.TrimSpace(*req.DefaultFromName))
	}
	if req.Tags != nil {
		key.Tags = encodeOpt(*req.Tags)
	}
	if req.WebhookURL != nil {
		target := strings.TrimSpace(*req.WebhookURL)
		if target != "" {
			u, err := url.Parse(target)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				violations["webhookUrl"] = "must be an absolute http(s) URL"
			}
		}
		key.WebhookURL = optString(target)
	}
	if req.WebhookSecret != nil {
		key.WebhookSecret = optString(strings.TrimSpace(*req.WebhookSecret))
	}
	if req.WebhookEvents != nil {
		normalized := []string{}
		for _, e := range *req.WebhookEvents {
			if t := kuvert.NormalizeEventType(e); t != kuvert.EventUnknown {
				normalized = append(normalized, t.String())
			}
		}
		key.WebhookEvents = encodeOpt(normalized)
	}
	if len(violations) > 0 {
		return kuvert.Validation(violations)
	}

	// Forwarding needs a signing secret, generate one when a URL is set
	// without one. It is returned once, like the api key itself.
	var generatedSecret string
	if key.WebhookURL != nil && *key.WebhookURL != "" &&
		(key.WebhookSecret == nil || *key.WebhookSecret == "") {
		generatedSecret = keys.NewWebhookSecret()
		key.WebhookSecret = &generatedSecret
	}

	if err := s.db.UpdateAppKey(key); err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return kuvert.NotFound("app key not found")
		}
		return err
	}

	resp := map[string]interface{}{"key": toKeyView(key)}
	if generatedSecret != "" {
		resp["webhookSecret"] = generatedSecret
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) revokeKey(c echo.Context) error {
	revoked, err := s.db.RevokeAppKey(c.Param("id"))
	if err != nil {
		return err
	}
	if !revoked {
		return kuvert.NotFound("app key not found or already revoked")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}
