// Command sparring is the client for the Sparring Partner chat backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/sparring/internal/adapter/api"
	"github.com/xiaot623/sparring/internal/adapter/auth"
	"github.com/xiaot623/sparring/internal/config"
	"github.com/xiaot623/sparring/internal/policy"
	"github.com/xiaot623/sparring/internal/repository"
	"github.com/xiaot623/sparring/internal/store"
)

// app carries what every subcommand shares once the config is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	apiURL   string
	token    string
	userID   string
	logLevel string
	noCache  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sparring: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "sparring",
		Short:         "Chat with your language sparring partner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.apiURL, "api-url", "", "backend base URL (overrides SPARRING_API_BASE_URL)")
	flags.StringVar(&a.token, "token", "", "bearer token (overrides SPARRING_TOKEN)")
	flags.StringVar(&a.userID, "user", "", "user id (overrides SPARRING_USER_ID)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&a.noCache, "no-cache", false, "do not persist the chat history locally")

	root.AddCommand(newChatCmd(a))
	root.AddCommand(newSessionsCmd(a))
	root.AddCommand(newDashboardCmd(a))
	root.AddCommand(newVoiceOfferCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newFakeBackendCmd(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIBaseURL = a.apiURL
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.userID != "" {
		cfg.UserID = a.userID
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.noCache {
		cfg.HistoryDB = ""
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(a.logger)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (a *app) client() *api.Client {
	return api.NewClient(a.cfg.APIBaseURL, auth.StaticToken(a.cfg.Token), a.cfg.RequestTimeout)
}

// newStore wires the store to the backend and, when configured, the local
// history cache. The returned function releases the cache.
func (a *app) newStore(ctx context.Context, client *api.Client) (*store.Store, func(), error) {
	opts := []store.Option{store.WithLogger(a.logger), store.WithUserID(a.cfg.UserID)}
	closeFn := func() {}

	if a.cfg.HistoryDB != "" {
		cache, err := repository.NewHistoryCache(a.cfg.HistoryDB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history cache: %w", err)
		}
		opts = append(opts, store.WithHistoryCache(cache))
		closeFn = func() {
			if err := cache.Close(); err != nil {
				a.logger.Warn("failed to close history cache", "error", err)
			}
		}
	}

	st := store.New(client, opts...)
	st.Hydrate(ctx)
	return st, closeFn, nil
}

func (a *app) policy(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy, a.cfg.MaxAttachmentBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	return engine, nil
}
