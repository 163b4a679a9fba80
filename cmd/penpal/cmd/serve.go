package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/byamadeus/penpal/inbound"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive email and trigger the publishing workflow",
	Long: `Listens for inbound email over HTTP (POST /email with the raw message as the
body) and, when --smtp is set, over SMTP. Messages whose subject carries the
secret token are forwarded to GitHub as a repository_dispatch event.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http", ":8080", "HTTP listen address, empty to disable")
	f.String("smtp", "", "SMTP listen address, empty to disable")
	f.String("smtp-domain", "localhost", "domain announced by the SMTP server")
	rootCmd.AddCommand(serveCmd)

	commandFlagKeys[serveCmd.Name()] = map[string]string{
		"http":        "serve.http_addr",
		"smtp":        "serve.smtp_addr",
		"smtp-domain": "serve.smtp_domain",
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ghOpts := []inbound.GitHubOption{inbound.WithEventType(cfg.GitHub.EventType)}
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, inbound.WithBaseURL(cfg.GitHub.BaseURL))
	}
	dispatcher, err := inbound.NewGitHubDispatcher(ctx, cfg.GitHub.Token, cfg.GitHub.Repo, ghOpts...)
	if err != nil {
		return err
	}

	relay := inbound.NewRelay(cfg.Email.Secret, dispatcher,
		inbound.WithRelayLogger(logger.Named("relay")))

	g, ctx := errgroup.WithContext(ctx)

	if addr := cfg.Serve.HTTPAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           inbound.NewHandler(relay, cfg.Email.MaxBytes, logger.Named("http")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("listening for http", zap.String("addr", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if addr := cfg.Serve.SMTPAddr; addr != "" {
		backend := inbound.NewBackend(relay, logger.Named("smtp"))
		srv := inbound.NewServer(backend, addr, cfg.Serve.SMTPDomain, cfg.Email.MaxBytes)
		g.Go(func() error {
			logger.Info("listening for smtp", zap.String("addr", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, smtp.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	return g.Wait()
}
