package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/modfin/kuvert"
	"github.com/modfin/kuvert/internal/brevo"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/hooker"
	"github.com/modfin/kuvert/tools"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

type Config struct {
	Interface string
	Port      int

	AutoTLS      bool
	AutoTLSEmail string
	Hostname     string

	AdminToken   string
	WebhookToken string

	DefaultFromName  string
	DefaultFromEmail string
}

func New(ctx context.Context, cfg Config, db dao.DAO, sender brevo.Sender, hook *hooker.Hooker, lc *tools.Logger) *Server {

	logger := logrus.New()
	if lc != nil {
		logger = lc.New("api")
	}

	return &Server{
		ctx:    ctx,
		cfg:    cfg,
		log:    logger,
		db:     db,
		sender: sender,
		hooker: hook,
	}
}

type Server struct {
	ctx context.Context
	cfg Config
	log *logrus.Logger

	db     dao.DAO
	sender brevo.Sender
	hooker *hooker.Hooker

	e *echo.Echo
}

// The prometheus middleware registers its collectors on the default
// registry, which tolerates only one registration per process.
var (
	promOnce sync.Once
	prom     *prometheus.Prometheus
)

// Router builds the echo instance with all routes and middleware. Start
// uses it, tests mount it directly.
func (s *Server) Router() *echo.Echo {

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	promOnce.Do(func() {
		prom = prometheus.NewPrometheus("kuvert", nil)
	})
	prom.Use(e)

	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	e.POST("/v1/send", s.send)
	e.GET("/v1/messages", s.listMessages)
	e.GET("/v1/messages/:id", s.getMessage)
	e.GET("/v1/messages/:id/events", s.getMessageEvents)

	e.POST("/webhooks/brevo", s.ingestWebhook)

	admin := e.Group("/admin", s.adminAuth)
	admin.POST("/keys", s.createKey)
	admin.GET("/keys", s.listKeys)
	admin.PATCH("/keys/:id", s.updateKey)
	admin.DELETE("/keys/:id", s.revokeKey)

	s.e = e
	return e
}

func (s *Server) Start() error {

	e := s.Router()

	if s.cfg.AutoTLS {
		e.AutoTLSManager.Prompt = autocert.AcceptTOS
		e.AutoTLSManager.Email = s.cfg.AutoTLSEmail
		e.AutoTLSManager.Cache = autocert.DirCache(".autocert")
		if s.cfg.Hostname != "" {
			e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(s.cfg.Hostname)
		}
		s.log.Infof("starting api server with auto tls on :443")
		return e.StartAutoTLS(":443")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Interface, s.cfg.Port)
	s.log.Infof("starting api server on %s", addr)
	return e.Start(addr)
}

func (s *Server) Stop(ctx context.Context) error {
	if s.e == nil {
		return nil
	}
	return s.e.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var kerr *kuvert.Error
	if errors.As(err, &kerr) {
		_ = c.JSON(kerr.HTTPStatus(), kerr)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		_ = c.JSON(httpErr.Code, map[string]interface{}{
			"error":   "http_error",
			"message": fmt.Sprint(httpErr.Message),
		})
		return
	}

	s.log.WithError(err).Error("unhandled error")
	_ = c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error":   "internal_error",
		"message": "internal server error",
	})
}
