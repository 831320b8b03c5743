package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/market-chat/internal/config"
	"github.com/omochice/market-chat/internal/logging"
	"github.com/omochice/market-chat/internal/server"
)

var (
	configPath string
	listenAddr string
	tokens     map[string]string
	sendRate   float64
	sendBurst  int
)

var rootCmd = &cobra.Command{
	Use:   "marketchat-server",
	Short: "Run the in-memory dev collaborator for the market chat client",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.marketchat/config.yaml)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (overrides listen_addr)")
	rootCmd.Flags().StringToStringVar(&tokens, "token", nil, "Bearer token to participant id, e.g. --token secret=buyer-1; without any, tokens are participant ids")
	rootCmd.Flags().Float64Var(&sendRate, "send-rate", 10, "Message posts per second allowed per participant")
	rootCmd.Flags().IntVar(&sendBurst, "send-burst", 20, "Message post burst per participant")
}

func run(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	srv := server.New(cfg.ListenAddr,
		server.WithTokens(tokens),
		server.WithSendRate(sendRate, sendBurst),
	)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(srv.Start)
	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		srv.Stop()
		return nil
	})
	return eg.Wait()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
