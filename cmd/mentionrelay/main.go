package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"mentionrelay/internal/bus"
	"mentionrelay/internal/config"
	"mentionrelay/internal/control"
	"mentionrelay/internal/groupcache"
	"mentionrelay/internal/identity"
	"mentionrelay/internal/pipeline"
	"mentionrelay/internal/relevance"
	"mentionrelay/internal/session"
	"mentionrelay/internal/webhook"
	"mentionrelay/internal/whatsapp"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

const sessionBusSize = 256

var (
	version    = "0.1.0"
	logLevel   = new(slog.LevelVar)
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	root := &cobra.Command{
		Use:          "mentionrelay",
		Short:        "Relay WhatsApp group mentions to a webhook",
		Long:         "mentionrelay keeps one WhatsApp session online, watches group messages that reference the owner, and posts them as JSON to a webhook.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "optional config file (yaml, json or .env); environment variables win")

	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(resetCmd())
	root.AddCommand(restartCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(initCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration and applies LOG_LEVEL.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if lvl, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		logLevel.Set(lvl)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the session and relay mentions until stopped",
		Long:  "Opens the credential store, connects (printing a pairing QR when unpaired), starts the control HTTP server and relays relevant group messages. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		if errors.Is(err, config.ErrMissingWebhookURL) {
			logger.Error("WEBHOOK_URL is not set, refusing to start")
		}
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := whatsapp.OpenStore(ctx, cfg.Session.AuthDir, logger)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer store.Close()

	var aliases map[string]string
	if cfg.Owner.AliasFile != "" {
		if aliases, err = identity.LoadAliases(cfg.Owner.AliasFile); err != nil {
			return err
		}
		logger.Info("alias table loaded", "path", cfg.Owner.AliasFile, "entries", len(aliases))
	}

	resolver := identity.NewResolver(identity.ResolverConfig{
		Owner: identity.Owner{
			Phone:   cfg.Owner.Phone,
			Opaque:  cfg.Owner.Opaque,
			Display: cfg.Owner.DisplayName,
		},
		Aliases:   aliases,
		CrossForm: cfg.Owner.CrossForm,
		Logger:    logger,
	})

	pattern, err := relevance.CompilePattern(cfg.Filter.TagRegex)
	if err != nil {
		return fmt.Errorf("TAG_REGEX: %w", err)
	}
	classifier := relevance.NewClassifier(relevance.ClassifierConfig{
		Policy: relevance.Policy{
			ForwardAll:    cfg.Filter.ForwardAll,
			Pattern:       pattern,
			ExcludeQuoted: cfg.Filter.ExcludeQuoted,
			TextFallback:  cfg.Filter.TextFallback,
		},
		Resolver: resolver,
	})

	events := bus.NewEventBus(logger)
	sessionBus := bus.New(sessionBusSize, logger)
	defer sessionBus.Close()

	// Assigned below; group lookups only happen once the session is running.
	var controller *session.Controller

	groups := groupcache.New(groupcache.Config{
		Lookup: func(ctx context.Context, groupID string) (string, error) {
			return controller.GroupName(ctx, groupID)
		},
		Logger: logger,
	})

	relay := webhook.New(webhook.Config{
		URL:       cfg.Webhook.URL,
		Secret:    cfg.Webhook.Secret,
		UserAgent: "mentionrelay/" + version,
		Logger:    logger,
		OnFailure: func(p webhook.Payload, status int, err error) {
			payload := map[string]any{"messageId": p.MessageID, "groupId": p.GroupID, "status": status}
			if err != nil {
				payload["err"] = err.Error()
			}
			events.Emit(bus.Event{Type: bus.EventWebhookFailed, Source: "webhook", Payload: payload})
		},
	})

	processor := pipeline.New(pipeline.Config{
		Classifier: classifier,
		Groups:     groups,
		Relay:      relay,
		Events:     events,
		Debug:      cfg.Webhook.Debug,
		Logger:     logger,
	})

	controller = session.New(session.Config{
		Factory:        whatsapp.NewFactory(whatsapp.ClientConfig{Store: store, Logger: logger}),
		Bus:            sessionBus,
		Events:         events,
		Resolver:       resolver,
		Handler:        processor,
		ReconnectDelay: cfg.Session.ReconnectDelay,
		RestartMode:    session.RestartMode(cfg.Session.RestartMode),
		Wipe:           store.Wipe,
		Logger:         logger,
	})
	if cfg.Owner.CrossForm {
		resolver.SetLookup(controller.PhoneForOpaque)
	}

	events.On(bus.EventSessionQR, func(e bus.Event) {
		if code, _ := e.Payload["qr"].(string); code != "" {
			fmt.Fprintln(os.Stdout, "Scan this code with WhatsApp (Linked devices):")
			qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
		}
	})

	server := control.New(control.Config{
		Port:         cfg.Control.Port,
		AdminSecret:  cfg.Control.AdminSecret,
		AllowOrigins: cfg.Control.AllowOrigins,
		FrontURL:     cfg.Control.FrontURL,
		Session:      controller,
		Events:       events,
		Logger:       logger,
	})
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErr <- err
			cancel()
		}
	}()

	if cfg.Control.AdminSecret == "" {
		logger.Warn("ADMIN_SECRET is empty, reset and restart are unauthenticated")
	}
	logger.Info("relay started",
		"webhook", cfg.Webhook.URL,
		"forward_all", cfg.Filter.ForwardAll,
		"restart_mode", cfg.Session.RestartMode,
		"port", cfg.Control.Port,
	)

	runErr := controller.Run(ctx)

	select {
	case err := <-serverErr:
		return fmt.Errorf("control server: %w", err)
	default:
	}
	if runErr != nil {
		logger.Error("session failed", "err", runErr)
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the resolved configuration",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List every configuration key with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			if asJSON {
				data, _ := json.MarshalIndent(sanitized, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			paths := config.ListPaths(sanitized)
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s=%v\n", k, paths[k])
			}
			return nil
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as nested JSON")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the config file in use",
		Run: func(cmd *cobra.Command, args []string) {
			if configPath == "" {
				fmt.Println("(none: environment and .env only)")
				return
			}
			fmt.Println(config.ExpandPath(configPath))
		},
	})

	return cmd
}
