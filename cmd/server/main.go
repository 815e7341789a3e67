package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/streakline/internal/config"
	"github.com/streakline/internal/db"
	"github.com/streakline/internal/handler"
	"github.com/streakline/internal/router"
	"github.com/streakline/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "streakline",
		Short:         "Check-in, quota and accountability engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), config.Load())
		},
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newInviteCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides LISTEN_ADDR/PORT")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := db.Init(cfg.DatabaseDriver, cfg.DatabaseTarget()); err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			log.Printf("database migrated (%s)", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newInviteCommand() *cobra.Command {
	invite := &cobra.Command{
		Use:   "invite",
		Short: "Manage invitation codes",
	}

	var maxUses int
	create := &cobra.Command{
		Use:   "create <code>",
		Short: "Create an invitation code that upgrades redeemers to premium",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := db.Init(cfg.DatabaseDriver, cfg.DatabaseTarget()); err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			profiles := service.NewProfileService(db.DB, cfg.Location())
			code, err := profiles.CreateInvitationCode(cmd.Context(), args[0], maxUses)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created invitation %s (max uses %d)\n", code.Code, code.MaxUses)
			return nil
		},
	}
	create.Flags().IntVar(&maxUses, "max-uses", 1, "number of users that can redeem the code")

	invite.AddCommand(create)
	return invite
}

func serve(ctx context.Context, cfg config.AppConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabaseTarget()); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	api, err := handler.NewAPI(db.DB, cfg, handler.Dependencies{})
	if err != nil {
		return fmt.Errorf("failed to build api: %w", err)
	}
	if cfg.GeminiAPIKey == "" {
		log.Printf("GEMINI_API_KEY is empty, nutrition analysis will fail")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.SetupRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to run server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
