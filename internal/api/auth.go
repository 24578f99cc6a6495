package api

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/keys"
)

// bearerKey resolves the Authorization header to a tenant by hashing the
// presented secret. When requireActive is set, revoked keys are rejected.
// Read-only lookups pass false so historical records stay queryable after
// revocation.
func (s *Server) bearerKey(c echo.Context, requireActive bool) (*dao.AppKey, error) {
	header := c.Request().Header.Get("Authorization")
	secret, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || secret == "" {
		return nil, kuvert.Unauthorized("Missing or invalid Authorization header. Use: Bearer <app_key>")
	}

	key, err := s.db.GetAppKeyByHash(keys.Hash(secret))
	if errors.Is(err, dao.ErrNotFound) {
		return nil, kuvert.Unauthorized("Invalid API key")
	}
	if err != nil {
		return nil, err
	}
	if requireActive && key.Revoked() {
		return nil, kuvert.Unauthorized("API key has been revoked")
	}
	return key, nil
}

func (s *Server) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.AdminToken == "" {
			return kuvert.ServiceUnavailable("admin endpoints are not configured")
		}
		token := c.Request().Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			return kuvert.Unauthorized("admin authentication required")
		}
		return next(c)
	}
}
