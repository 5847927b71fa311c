package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exploopio/grc/pkg/api"
	"github.com/exploopio/grc/pkg/audit"
	"github.com/exploopio/grc/pkg/client"
	"github.com/exploopio/grc/pkg/config"
	"github.com/exploopio/grc/pkg/core"
	"github.com/exploopio/grc/pkg/metrics"
	"github.com/exploopio/grc/pkg/retry"
)

var (
	configPath string
	apiURL     string
	apiKey     string
	clientFlag string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "GRC scoring, dashboard and finding promotion agent",
	Long: `grc-agent talks to the GRC REST backend to score a client's security
posture, compose its executive dashboard and promote findings to risks.

Configuration is read from --config (YAML). GRC_API_URL, GRC_API_KEY and
GRC_REDIS_URL override the file; flags override both.`,
	Version:      appVersion,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to config file")
	pf.StringVar(&apiURL, "api-url", "", "Backend API URL (or GRC_API_URL env)")
	pf.StringVar(&apiKey, "api-key", "", "Backend API key (or GRC_API_KEY env)")
	pf.StringVar(&clientFlag, "client", "", "Client id (defaults to client_id from config)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(findingsCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(outboxCmd)
}

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  core.Logger
	metrics metrics.Collector
	client  *client.Client
	api     *api.Service

	audit  *audit.Logger
	outbox *retry.SQLiteOutbox
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if apiKey != "" {
		cfg.API.APIKey = apiKey
	}
	if clientFlag != "" {
		cfg.ClientID = clientFlag
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newApp loads the configuration and wires the transport. m may be nil.
func newApp(ctx context.Context, m metrics.Collector) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireAPI(); err != nil {
		return nil, fmt.Errorf("%w (use --api-url or GRC_API_URL)", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  core.NewDefaultLogger("["+appName+"] ", core.ParseLogLevel(cfg.Log.Level)),
		metrics: metrics.OrNop(m),
	}

	opts := []client.Option{client.WithLogger(a.logger), client.WithMetrics(a.metrics)}
	if ts := cfg.TokenSource(ctx); ts != nil {
		opts = append(opts, client.WithTokenSource(ts))
	}
	a.client = client.New(cfg.ClientConfig(), opts...)
	a.api = api.New(a.client, api.WithLogger(a.logger), api.WithMetrics(a.metrics))

	if lc := cfg.AuditLoggerConfig(); lc != nil {
		if a.audit, err = audit.NewLogger(lc); err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.audit.Start()
	}
	if sc := cfg.SQLiteConfig(); sc != nil {
		if a.outbox, err = retry.NewSQLiteOutbox(sc); err != nil {
			a.Close()
			return nil, fmt.Errorf("open outbox: %w", err)
		}
	}
	return a, nil
}

// clientID returns the configured client or an error naming the flag.
func (a *app) clientID() (string, error) {
	if a.cfg.ClientID == "" {
		return "", fmt.Errorf("no client id: use --client or client_id in config")
	}
	return a.cfg.ClientID, nil
}

// auditRecorder returns the audit logger, or nil when auditing is off.
func (a *app) auditRecorder() audit.Recorder {
	if a.audit == nil {
		return nil
	}
	return a.audit
}

func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Stop(); err != nil {
			a.logger.Warn("close audit log: %v", err)
		}
	}
	if a.outbox != nil {
		if err := a.outbox.Close(); err != nil {
			a.logger.Warn("close outbox: %v", err)
		}
	}
}
