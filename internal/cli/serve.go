package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"endochat/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat HTTP API",
	Long: `Serve the chat HTTP API. The search index is built in the background,
the retention sweeper runs until shutdown, and the image catalog is reloaded
on change when images.watch is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := setupLogging(cfg.Logging, true)
	if err != nil {
		return err
	}
	defer lg.Close()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	chat, err := a.chat()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := a.search.Warm(ctx); err != nil {
			log.Warn().Err(err).Msg("Search index not ready, answering from general knowledge until it is")
			return
		}
		log.Info().Msg("Search index ready")
	}()

	if cfg.Images.Watch {
		go func() {
			if err := a.catalog.Watch(ctx); err != nil {
				log.Warn().Err(err).Str("file", cfg.Images.MetadataPath).Msg("Image catalog watch stopped")
			}
		}()
	}

	sweeper := a.sweeper()
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			log.Warn().Err(err).Msg("Retention sweeper stop failed")
		}
	}()

	h := httpapi.NewHandler(chat, a.attribution, a.conversations, cfg.Images.URLPrefix, a.search.Ready)
	e := httpapi.NewServer(h)

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
