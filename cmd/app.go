package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/walink/internal/bus"
	"github.com/nextlevelbuilder/walink/internal/config"
	"github.com/nextlevelbuilder/walink/internal/metrics"
	"github.com/nextlevelbuilder/walink/internal/pairing"
	"github.com/nextlevelbuilder/walink/internal/ratelimit"
	"github.com/nextlevelbuilder/walink/internal/responders"
	"github.com/nextlevelbuilder/walink/internal/session"
	"github.com/nextlevelbuilder/walink/internal/transport"
	"github.com/nextlevelbuilder/walink/internal/transport/whatsapp"
)

// app is the assembled runtime shared by serve and pair.
type app struct {
	cfg       *config.Config
	store     session.Store
	transport *whatsapp.Transport
	bus       *bus.Bus
	settings  *responders.Live
	manager   *pairing.Manager
	watcher   *config.Watcher
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := session.Open(ctx, cfg.SessionOptions())
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	tr := whatsapp.New(whatsapp.Options{
		DeviceDir:  cfg.Transport.DeviceDir,
		ClientName: cfg.Transport.ClientName,
		LogLevel:   cfg.Transport.LogLevel,
	})

	b := bus.New()
	metrics.Observe(b)
	b.Subscribe("log", logEvent)

	live := responders.NewLive(cfg.BotSettings())
	replies := ratelimit.New("replies", cfg.Bot.ReplyRatePerMinute, 0)

	dispatchOpts := cfg.DispatchOptions()
	dispatchOpts.Bus = b

	mgr := pairing.NewManager(pairing.Options{
		Transport:      tr,
		Store:          store,
		Routes:         responders.Routes(live, time.Now(), replies),
		Dispatch:       dispatchOpts,
		ReconnectDelay: cfg.ReconnectDelay(),
		MaxReconnects:  cfg.Session.MaxReconnects,
		Notice: func() transport.Payload {
			return transport.Payload{Text: responders.ConnectedNotice(live.Load())}
		},
		Bus: b,
	})

	return &app{
		cfg:       cfg,
		store:     store,
		transport: tr,
		bus:       b,
		settings:  live,
		manager:   mgr,
	}, nil
}

// watchConfig hot-swaps bot settings when path changes. Failing to watch is
// logged and otherwise ignored.
func (a *app) watchConfig(path string) {
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config: hot reload unavailable", "error", err)
		return
	}
	w.OnChange(func(cfg *config.Config) {
		a.settings.Store(cfg.BotSettings())
		slog.Info("config: bot settings updated", "prefix", cfg.Bot.Prefix, "name", cfg.Bot.Name)
	})
	if err := w.Start(); err != nil {
		slog.Warn("config: hot reload unavailable", "path", path, "error", err)
		w.Stop()
		return
	}
	a.watcher = w
}

func (a *app) Close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.manager.Close()
	return a.store.Close()
}

func logEvent(e bus.Event) {
	switch p := e.Payload.(type) {
	case bus.PairingResult:
		if p.Error != "" {
			slog.Warn("pairing: attempt answered", "identity", p.Identity, "attempt", p.Attempt, "outcome", p.Outcome, "error", p.Error)
			return
		}
		slog.Info("pairing: attempt answered", "identity", p.Identity, "attempt", p.Attempt, "outcome", p.Outcome)
	case bus.ResponderFailed:
		slog.Debug("dispatch: responder failed", "identity", p.Identity, "responder", p.Responder, "error", p.Error)
	}
}

// ignoreCanceled drops the error a graceful shutdown produces.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
