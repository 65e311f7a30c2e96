package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"github.com/retrosoft-labs/retrosoft/internal/notifier"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	notifierAddr           string
	notifierSecret         string
	notifierNoMetrics      bool
	notifierURL            string
	notifierReconnectDelay time.Duration
)

func init() {
	notifierServeCmd.Flags().StringVar(&notifierAddr, "addr", ":8000", "Listen address")
	notifierServeCmd.Flags().StringVar(&notifierSecret, "secret", "", "Webhook secret (default: $"+branding.EnvVar("WEBHOOK_SECRET")+")")
	notifierServeCmd.Flags().BoolVar(&notifierNoMetrics, "no-metrics", false, "Do not serve /metrics")

	notifierListenCmd.Flags().StringVar(&notifierURL, "url", "", "Notifier WebSocket URL (default: notifier_url)")
	notifierListenCmd.Flags().DurationVar(&notifierReconnectDelay, "reconnect-delay", notifier.DefaultReconnectDelay, "Wait between connection attempts")

	notifierCmd.AddCommand(notifierServeCmd)
	notifierCmd.AddCommand(notifierListenCmd)
	rootCmd.AddCommand(notifierCmd)
}

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Push update notifications over WebSocket",
}

var notifierServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Relay signed GitHub push webhooks to connected clients",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := notifierSecret
		if secret == "" {
			secret = os.Getenv(branding.EnvVar("WEBHOOK_SECRET"))
		}
		opts := []notifier.Option{notifier.WithLogger(logger.Named("notifier"))}
		if !notifierNoMetrics {
			opts = append(opts, notifier.WithMetrics(metrics.New()))
		}
		srv, err := notifier.NewServer(secret, opts...)
		if err != nil {
			return fmt.Errorf("%w (set --secret or %s)", err, branding.EnvVar("WEBHOOK_SECRET"))
		}
		err = srv.ListenAndServe(cmd.Context(), notifierAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

var notifierListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Sync tracked files whenever the notifier reports a push",
	Long: `Keeps a WebSocket connection to notifier_url open, reconnecting after any
failure. Every update message triggers a silent sync of the tracked files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		settings := config.Load(config.FilePath())
		url := notifierURL
		if url == "" {
			url = settings.NotifierURL
		}
		if url == "" {
			return fmt.Errorf("no notifier URL configured (set --url or `%s config set %s`)", branding.CLIName(), config.KeyNotifierURL)
		}

		live := newLive(settings, logger, nil)
		done := make(chan struct{})
		defer close(done)
		go logEvents(live.Events(), done, logger)

		client := notifier.NewClient(url, syncOnUpdate(live.CheckSilent),
			notifier.WithReconnectDelay(notifierReconnectDelay),
			notifier.WithClientLogger(logger.Named("notifier")))
		logger.Info("listening for update notifications", zap.String("url", url))
		return client.Run(ctx)
	},
}

// syncOnUpdate adapts a silent check to a notifier callback. A trigger that
// arrives while a check is running is dropped.
func syncOnUpdate(check func(context.Context) bool) notifier.UpdateFunc {
	return func(ctx context.Context, msg notifier.Message) {
		if !check(ctx) {
			logger.Debug("update notification ignored, check in progress")
		}
	}
}
