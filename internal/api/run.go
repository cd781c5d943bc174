package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FlowForge/FlowForge/internal/engine"
	"github.com/FlowForge/FlowForge/internal/genai"
	"github.com/FlowForge/FlowForge/internal/intake"
	"github.com/FlowForge/FlowForge/internal/messaging"
	"github.com/FlowForge/FlowForge/internal/models"
	"github.com/FlowForge/FlowForge/internal/scheduler"
	"github.com/FlowForge/FlowForge/internal/store"
	"github.com/FlowForge/FlowForge/internal/twiliowhatsapp"
	"github.com/FlowForge/FlowForge/internal/util"
	"github.com/FlowForge/FlowForge/internal/whatsapp"
)

// engineTickSchedule drives scheduled flows and bulk messages every 5 seconds.
const engineTickSchedule = "*/5 * * * * *"

const fallbackAckMessage = "Sorry, I didn't quite understand that. Can you rephrase?"

// Run wires the configured modules together and serves until interrupted.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	msgService, err := buildMessagingService(waOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}
	defer msgService.Stop()

	eng := engine.NewEngine(st, msgService)
	wizard := intake.NewWizard(st)

	var gaClient *genai.Client
	if util.ParseBoolEnv("AI_FALLBACK_ENABLED", true) {
		gaClient, err = genai.NewClient(genaiOpts...)
		if err != nil {
			slog.Warn("GenAI fallback disabled", "reason", err)
		}
	} else {
		slog.Info("GenAI fallback disabled by AI_FALLBACK_ENABLED")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	respHandler := buildResponseChain(st, eng, wizard, gaClient, msgService)
	go respHandler.Run(ctx)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(engineTickSchedule, func() {
		eng.RunScheduledWork(context.Background(), time.Now())
	}); err != nil {
		return fmt.Errorf("failed to register scheduler tick: %w", err)
	}

	server := NewServer(st, eng, msgService, wizard, apiOpts...)
	server.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("Shutting down", "signal", s.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildStore picks a backend from the options: Postgres or SQLite when a DSN
// is configured, in-memory otherwise.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("Using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// buildMessagingService picks the transport from the environment: the Cloud
// API when a Graph token is configured, Twilio when Twilio credentials are
// configured, the whatsmeow personal client otherwise.
func buildMessagingService(waOpts []whatsapp.Option) (messaging.Service, error) {
	if token, phoneNumberID := os.Getenv("WHATSAPP_TOKEN"), os.Getenv("PHONE_NUMBER_ID"); token != "" && phoneNumberID != "" {
		slog.Info("Using WhatsApp Cloud API transport", "phone_number_id", phoneNumberID)
		var cloudOpts []messaging.CloudAPIOption
		if verifyToken := os.Getenv("VERIFY_TOKEN"); verifyToken != "" {
			cloudOpts = append(cloudOpts, messaging.WithVerifyToken(verifyToken))
		}
		if publicBase := os.Getenv("PUBLIC_BASE_URL"); publicBase != "" {
			cloudOpts = append(cloudOpts, messaging.WithPublicBaseURL(publicBase))
		}
		return messaging.NewCloudAPIService(token, phoneNumberID, cloudOpts...), nil
	}

	if os.Getenv("TWILIO_ACCOUNT_SID") != "" {
		slog.Info("Using Twilio WhatsApp transport")
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}

	slog.Info("Using whatsmeow personal-account transport")
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsmeowService(client), nil
}

// buildResponseChain assembles the inbound routing chain: new contacts enter
// the intake wizard, then the flow engine gets first claim on the message,
// then an in-progress wizard, then the GenAI fallback.
func buildResponseChain(st store.Store, eng *engine.Engine, wizard *intake.Wizard, gaClient *genai.Client, msgService messaging.Service) *messaging.ResponseHandler {
	respHandler := messaging.NewResponseHandler(msgService)
	respHandler.SetDefaultMessage(fallbackAckMessage)

	respHandler.AddResponder("intake-new-contact", func(ctx context.Context, from, body string, ts int64) (*models.Payload, bool, error) {
		if wizard.InProgress(from) || wizard.HasCompletedLead(from) {
			return nil, false, nil
		}
		slog.Info("New contact detected, starting intake", "from", from)
		return wizard.Start(from), true, nil
	})

	respHandler.AddResponder("flow-engine", func(ctx context.Context, from, body string, ts int64) (*models.Payload, bool, error) {
		payload, err := eng.ProcessMessage(ctx, from, body)
		if err != nil {
			return nil, false, err
		}
		return payload, payload != nil, nil
	})

	respHandler.AddResponder("intake", func(ctx context.Context, from, body string, ts int64) (*models.Payload, bool, error) {
		if !wizard.InProgress(from) {
			return nil, false, nil
		}
		payload, err := wizard.HandleMessage(from, body)
		if err != nil {
			return nil, false, err
		}
		return payload, true, nil
	})

	if gaClient != nil {
		respHandler.AddResponder("genai", func(ctx context.Context, from, body string, ts int64) (*models.Payload, bool, error) {
			lead, err := st.GetLead(from)
			if err != nil {
				slog.Warn("GenAI lead lookup failed", "error", err, "from", from)
				lead = nil
			}
			if lead != nil && !lead.Completed {
				lead = nil
			}
			reply, err := gaClient.Reply(ctx, body, lead)
			if err != nil {
				return models.TextPayload(genai.FallbackReply), true, nil
			}
			if reply == "" {
				return nil, false, nil
			}
			return models.TextPayload(reply), true, nil
		})
	}

	return respHandler
}
