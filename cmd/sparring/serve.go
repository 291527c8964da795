package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/xiaot623/sparring/internal/fakebackend"
	"github.com/xiaot623/sparring/internal/service"
	bridge "github.com/xiaot623/sparring/internal/transport/http"
	"github.com/xiaot623/sparring/internal/transport/ws"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat state to a local UI over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = a.cfg.BridgePort
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := a.client()
			st, closeFn, err := a.newStore(ctx, client)
			if err != nil {
				return err
			}
			defer closeFn()

			engine, err := a.policy(ctx)
			if err != nil {
				return err
			}

			hub := ws.NewHub(a.logger)
			go hub.Run(ctx)
			feed := ws.NewServer(hub, ws.Options{
				PingInterval: a.cfg.PingInterval,
				WriteTimeout: a.cfg.WriteTimeout,
			}, func() interface{} { return st.Snapshot() }, a.logger)
			unsubscribe := bridge.ForwardEvents(st, hub, a.logger)
			defer unsubscribe()

			if _, err := st.ListSessions(ctx); err != nil {
				a.logger.Warn("failed to load chat history", "error", err)
			}

			e := bridge.NewServer(bridge.Deps{
				Store:     st,
				Policy:    engine,
				Dashboard: service.NewDashboard(client),
				Hub:       hub,
				Feed:      feed,
				UserID:    a.cfg.UserID,
				MaxUpload: 2 * a.cfg.MaxAttachmentBytes,
				Logger:    a.logger,
			})
			a.logger.Info("starting bridge", "port", port, "backend", a.cfg.APIBaseURL)
			return serveUntilDone(ctx, e, port, a)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides SPARRING_BRIDGE_PORT)")
	return cmd
}

func newFakeBackendCmd(a *app) *cobra.Command {
	var (
		port      int
		rateLimit float64
	)
	cmd := &cobra.Command{
		Use:   "fake-backend",
		Short: "Run an in-memory chat backend for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = a.cfg.FakeBackendPort
			}
			if !cmd.Flags().Changed("rate-limit") {
				rateLimit = a.cfg.FakeRateLimit
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e := fakebackend.New(fakebackend.Config{
				Token:     a.cfg.Token,
				RateLimit: rateLimit,
			}).NewEcho()
			a.logger.Info("starting fake backend", "port", port, "rate_limit", rateLimit)
			return serveUntilDone(ctx, e, port, a)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides SPARRING_FAKE_BACKEND_PORT)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "chat requests per second, 0 disables limiting")
	return cmd
}

// serveUntilDone runs e until ctx is cancelled, then shuts it down gracefully.
func serveUntilDone(ctx context.Context, e *echo.Echo, port int, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("failed to shutdown server gracefully", "error", err)
	}
	return nil
}

func newDashboardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print learning progress as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			dash, err := service.NewDashboard(a.client()).Load(cmd.Context(), a.cfg.UserID)
			if err != nil {
				return userError(err)
			}
			return writeJSON(cmd.OutOrStdout(), dash)
		},
	}
}

func newVoiceOfferCmd(a *app) *cobra.Command {
	var sdpType string
	cmd := &cobra.Command{
		Use:   "voice-offer [sdp-file]",
		Short: "Send an SDP offer to the voice endpoint and print the answer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				sdp []byte
				err error
			)
			if len(args) == 1 && args[0] != "-" {
				sdp, err = os.ReadFile(args[0])
			} else {
				sdp, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read offer: %w", err)
			}

			answer, err := a.client().SendVoiceOffer(cmd.Context(), string(sdp), sdpType)
			if err != nil {
				return userError(err)
			}
			return writeJSON(cmd.OutOrStdout(), answer)
		},
	}
	cmd.Flags().StringVar(&sdpType, "type", "offer", "SDP type")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
