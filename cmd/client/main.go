package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/market-chat/internal/client"
	"github.com/omochice/market-chat/internal/config"
	"github.com/omochice/market-chat/internal/logging"
	"github.com/omochice/market-chat/internal/metrics"
	"github.com/omochice/market-chat/pkg/protocol"
)

var (
	configPath    string
	participantID string
	token         string
	apiURL        string
	pushURL       string
)

var rootCmd = &cobra.Command{
	Use:   "marketchat",
	Short: "Chat with buyers and sellers from the terminal",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to config.yaml (default ~/.marketchat/config.yaml)")
	f.StringVar(&participantID, "participant", "", "Your participant id (overrides participant_id)")
	f.StringVar(&token, "token", "", "Bearer token (overrides token)")
	f.StringVar(&apiURL, "api", "", "Collaborator base URL (overrides api_url)")
	f.StringVar(&pushURL, "push", "", "Push channel base URL (overrides push_url)")
}

func run(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	override(&cfg.ParticipantID, participantID)
	override(&cfg.Token, token)
	override(&cfg.APIURL, apiURL)
	override(&cfg.PushURL, pushURL)
	if cfg.Token == "" {
		cfg.Token = cfg.ParticipantID
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	c, err := client.NewFromConfig(ctx, cfg, metrics.New(reg))
	if err != nil {
		return err
	}
	defer c.Close()
	c.Start()

	eg, ctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, eg, cfg.MetricsAddr, reg)
	}
	eg.Go(func() error {
		render(c, os.Stdout)
		return nil
	})
	// Reading stdin cannot be interrupted, so the prompt lives outside the group.
	go func() {
		if err := repl(ctx, c, os.Stdin, os.Stdout); err != nil {
			log.Warn().Err(err).Msg("read input")
		}
		stop()
	}()
	eg.Go(func() error {
		<-ctx.Done()
		c.Close()
		return nil
	})
	return eg.Wait()
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func serveMetrics(ctx context.Context, eg *errgroup.Group, addr string, reg *prometheus.Registry) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	eg.Go(func() error {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "metrics server")
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

const help = `commands:
  /open <id> [name]   open a conversation and make it active
  /switch <id>        switch to a conversation in the list
  /close <id>         remove a conversation from the list
  /list               show the conversation list
  /image <path> [text] send an image
  /typing [off]       tell the counterpart you are typing
  /quit               leave
anything else is sent as a message`

func repl(ctx context.Context, c client.Client, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, help)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			send(ctx, c, out, line, nil)
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return nil
		case "/open":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: /open <id> [name]")
				continue
			}
			c.OpenConversation(fields[1], client.Meta{DisplayName: strings.Join(fields[2:], " ")})
		case "/switch":
			if len(fields) < 2 || !c.SelectConversation(fields[1]) {
				fmt.Fprintln(out, "no such conversation")
			}
		case "/close":
			if len(fields) < 2 || !c.RemoveConversation(fields[1]) {
				fmt.Fprintln(out, "no such conversation")
			}
		case "/list":
			list(c, out)
		case "/typing":
			c.NotifyComposing(len(fields) < 2 || fields[1] != "off")
		case "/image":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: /image <path> [text]")
				continue
			}
			upload, err := readUpload(fields[1])
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			send(ctx, c, out, strings.Join(fields[2:], " "), upload)
		default:
			fmt.Fprintln(out, help)
		}
	}
	return scanner.Err()
}

func send(ctx context.Context, c client.Client, out io.Writer, text string, upload *protocol.Upload) {
	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := c.Send(sendCtx, text, upload); err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
}

func readUpload(path string) (*protocol.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	return &protocol.Upload{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	}, nil
}

func list(c client.Client, out io.Writer) {
	active, _ := c.ActiveConversation()
	for _, e := range c.Conversations() {
		marker := " "
		if e.ID == active.ID {
			marker = "*"
		}
		name := e.DisplayName
		if name == "" {
			name = e.ID
		}
		fmt.Fprintf(out, "%s %s (%s)\n", marker, name, e.ID)
	}
}

// render prints confirmed messages once and status changes until the
// event stream closes.
func render(c client.Client, out io.Writer) {
	printed := make(map[string]bool)
	for ev := range c.Events() {
		switch ev.Kind {
		case client.EventStatusChanged:
			fmt.Fprintf(out, "[%s]\n", ev.Status)
		case client.EventComposingChanged:
			if c.CounterpartComposing() {
				fmt.Fprintln(out, "... typing")
			}
		case client.EventMessagesChanged:
			for _, m := range c.Messages() {
				if m.Origin != protocol.OriginConfirmed || printed[m.ID] {
					continue
				}
				printed[m.ID] = true
				text := m.Content
				if m.Image != "" {
					text = strings.TrimSpace(text + " [image " + m.Image + "]")
				}
				fmt.Fprintf(out, "%s %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, text)
			}
		}
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
