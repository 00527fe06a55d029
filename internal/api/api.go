// Package api wires the RepLog engine to its transports and serves the HTTP
// surface: health, the Twilio webhook and a synchronous JSON message endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/RepLog/internal/analyzer"
	"github.com/BTreeMap/RepLog/internal/command"
	"github.com/BTreeMap/RepLog/internal/conversation"
	"github.com/BTreeMap/RepLog/internal/genai"
	"github.com/BTreeMap/RepLog/internal/messaging"
	"github.com/BTreeMap/RepLog/internal/onboarding"
	"github.com/BTreeMap/RepLog/internal/parser"
	"github.com/BTreeMap/RepLog/internal/reminder"
	"github.com/BTreeMap/RepLog/internal/scheduler"
	"github.com/BTreeMap/RepLog/internal/store"
	"github.com/BTreeMap/RepLog/internal/twiliowhatsapp"
	"github.com/BTreeMap/RepLog/internal/util"
	"github.com/BTreeMap/RepLog/internal/whatsapp"
)

const (
	// DefaultServerAddress is the default HTTP listen address.
	DefaultServerAddress = ":3000"
	// DefaultMaxBodyBytes bounds JSON request bodies.
	DefaultMaxBodyBytes = 1 << 20
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration for the API server and its wiring.
type Opts struct {
	Addr             string
	UseTwilio        bool
	TwilioWebhookURL string // public URL; enables signature validation when set
	RedisURL         string
	SystemPromptFile string
	ReminderCron     string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilio selects Twilio instead of whatsmeow as the transport.
func WithTwilio(enabled bool) Option {
	return func(o *Opts) { o.UseTwilio = enabled }
}

// WithTwilioSignatureValidation validates X-Twilio-Signature against the
// public webhook URL.
func WithTwilioSignatureValidation(webhookURL string) Option {
	return func(o *Opts) { o.TwilioWebhookURL = webhookURL }
}

// WithRedisURL enables the Redis dedup cache.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithSystemPromptFile overrides the built-in conversation prompt.
func WithSystemPromptFile(path string) Option {
	return func(o *Opts) { o.SystemPromptFile = path }
}

// WithReminderCron schedules the daily routine reminders.
func WithReminderCron(expr string) Option {
	return func(o *Opts) { o.ReminderCron = expr }
}

// Server holds the HTTP surface.
type Server struct {
	inbox  *messaging.Inbox
	twilio *messaging.TwilioService
}

// NewServer creates a Server. inbox answers POST /messages; twilio, when not
// nil, serves the webhook.
func NewServer(inbox *messaging.Inbox, twilio *messaging.TwilioService) *Server {
	return &Server{inbox: inbox, twilio: twilio}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/messages", s.messagesHandler)
	if s.twilio != nil {
		mux.HandleFunc("/webhook/twilio", s.twilio.TwilioWebhookHandler)
	}
	return mux
}

// NewDispatcher assembles the engine over st and model.
func NewDispatcher(st store.Store, model genai.ClientInterface, cfg conversation.Config) *command.Dispatcher {
	return command.NewDispatcher(
		st,
		onboarding.NewEngine(st, model),
		parser.New(model),
		analyzer.New(st, model),
		conversation.New(cfg, st, model),
	)
}

// Run builds every module from the given options and serves until SIGINT or
// SIGTERM.
func Run(waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultServerAddress}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}
	st, err := store.Open(storeCfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	model, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}
	convCfg, err := conversation.LoadConfig(cfg.SystemPromptFile)
	if err != nil {
		return err
	}
	dispatcher := NewDispatcher(st, model, convCfg)

	svc, twilioSvc, err := newTransport(cfg, waOpts, twOpts)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer svc.Stop()

	var inboxOpts []messaging.InboxOption
	if cfg.RedisURL != "" {
		dedup, err := store.NewRedisDedup(ctx, cfg.RedisURL, store.DefaultDedupTTL)
		if err != nil {
			slog.Warn("api.Run: Redis dedup unavailable, relying on the store", "error", err)
		} else {
			defer dedup.Close()
			inboxOpts = append(inboxOpts, messaging.WithDedupCache(dedup))
		}
	}
	go messaging.NewInbox(svc, st, dispatcher, inboxOpts...).Run(ctx)

	if cfg.ReminderCron != "" {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(cfg.ReminderCron, reminder.New(st, svc).Job(ctx)); err != nil {
			return fmt.Errorf("failed to schedule reminders: %w", err)
		}
		slog.Info("api.Run: routine reminders scheduled", "cron", cfg.ReminderCron)
	}

	server := NewServer(messaging.NewInbox(nil, st, dispatcher, inboxOpts...), twilioSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: RepLog API listening", "addr", cfg.Addr, "twilio", twilioSvc != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("api.Run: shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newTransport(cfg Opts, waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option) (messaging.Service, *messaging.TwilioService, error) {
	if cfg.UseTwilio {
		client, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.TwilioWebhookURL != "" {
			var twCfg twiliowhatsapp.Opts
			for _, opt := range twOpts {
				opt(&twCfg)
			}
			token := twCfg.AuthToken
			if token == "" {
				token = util.FirstEnv("TWILIO_AUTH_TOKEN")
			}
			opts = append(opts, messaging.WithSignatureValidation(token, cfg.TwilioWebhookURL))
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, svc, nil
	}

	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return messaging.NewWhatsAppService(client), nil, nil
}
