package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/modfin/kuvert/internal/api"
	"github.com/modfin/kuvert/internal/brevo"
	"github.com/modfin/kuvert/internal/config"
	"github.com/modfin/kuvert/internal/dao"
	"github.com/modfin/kuvert/internal/hooker"
	"github.com/modfin/kuvert/tools"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {

	app := &cli.App{
		Name:   "kuvertd",
		Usage:  "an email-sending gateway fronting the Brevo transactional api",
		Action: start,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Action: start,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

func start(c *cli.Context) error {

	cfg := config.Get()

	l := log.New()
	level, err := log.ParseLevel(cfg.LogLevel)
	if err == nil {
		l.SetLevel(level)
	}
	l.AddHook(tools.LoggerWho{Name: "kuvertd"})
	lc := tools.LoggerCloner(l)

	l.Infof("starting server")

	db, err := dao.NewSQLite(cfg.DbURI)
	if err != nil {
		return err
	}

	sender, err := brevo.New(brevo.Config{
		APIKey:  cfg.BrevoAPIKey,
		BaseURL: cfg.BrevoBaseURL,
	})
	if err != nil {
		return err
	}

	hook := hooker.New(lc)

	server := api.New(c.Context, api.Config{
		Interface:        cfg.APIInterface,
		Port:             cfg.APIPort,
		AutoTLS:          cfg.APIAutoTLS,
		AutoTLSEmail:     cfg.APIAutoTLSEmail,
		Hostname:         cfg.Hostname,
		AdminToken:       cfg.AdminToken,
		WebhookToken:     cfg.WebhookToken,
		DefaultFromName:  cfg.DefaultFromName,
		DefaultFromEmail: cfg.DefaultFromEmail,
	}, db, sender, hook, lc)

	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.WithError(err).Fatal("api server died")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	sig := <-sigc
	l.Infof("got signal: %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	services := []Stoppable{server, stopper(func(ctx context.Context) error { return db.Close() })}

	wg := &sync.WaitGroup{}
	for _, service := range services {
		wg.Add(1)
		go func(service Stoppable) {
			defer wg.Done()
			err := service.Stop(shutdownCtx)
			if err != nil {
				l.WithError(err).Error("failed to stop service")
			}
		}(service)
	}

	go func() {
		<-shutdownCtx.Done()
		l.WithError(shutdownCtx.Err()).Warn("shutdown was forced, terminating now")
		os.Exit(1)
	}()

	wg.Wait()
	l.Infof("shutdown complete")

	return nil
}

type stopper func(ctx context.Context) error

func (s stopper) Stop(ctx context.Context) error {
	return s(ctx)
}
