package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-session/config"
	"github.com/goliatone/go-session/contact"
	"github.com/goliatone/go-session/internal/app"
	"github.com/goliatone/go-session/metrics"
	"github.com/goliatone/go-session/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	lgr := app.NewLogger(cfg.LogLevel)
	logger := lgr.GetLogger("site")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	a, err := app.New(ctx, cfg, lgr)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	visitors := web.NewVisitors(func(_ context.Context, id string) (*web.Visitor, error) {
		s, err := a.NewSession("visitor-"+id, collector, true)
		if err != nil {
			return nil, err
		}
		v := web.NewVisitor(id, s.Manager, s.Avatars, s.Identity.Close)
		v.Exchanger = s.Identity
		return v, nil
	},
		web.WithVisitorTTL(cfg.VisitorTTL),
		web.WithVisitorLogger(a.GetLogger("visitors")),
		web.WithVisitorGauge(collector.SetVisitors),
	)
	defer visitors.Close()
	go visitors.Run(ctx, time.Minute)

	srv, err := web.New(web.Config{
		Visitors:         visitors,
		Contact:          contact.NewService(nil, contact.WithLogger(a.GetLogger("contact")), contact.WithRate(cfg.ContactRate)),
		Metrics:          collector,
		Gatherer:         reg,
		Logger:           a.GetLogger("http"),
		VisitorCookieTTL: cfg.VisitorTTL,
		SecureCookies:    cfg.SecureCookies,
		CSRFKey:          []byte(cfg.CSRFSecret),
		CSRFTTL:          cfg.CSRFTTL,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Listen(cfg.Addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
