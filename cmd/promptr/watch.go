package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/promptr-app/promptr/svc/syncagent"
)

var (
	watchURL      string
	watchToken    string
	watchInterval time.Duration
)

// watchCmd runs the client sync agent against a promptr server and prints
// every entitlement change. SIGHUP forces an immediate refresh.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a user's entitlement as a client would",
	RunE: func(cmd *cobra.Command, args []string) error {
		token := watchToken
		if token == "" {
			token = os.Getenv("PROMPTR_TOKEN")
		}
		if token == "" {
			return fmt.Errorf("--token or PROMPTR_TOKEN is required")
		}

		var app appConfig
		if err := section(&app)(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log := newLogger(app)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session := syncagent.NewSession(token, nil)
		defer session.Close()
		agent := syncagent.New(session, syncagent.NewHTTPFetcher(watchURL, nil),
			syncagent.WithInterval(watchInterval), syncagent.WithLogger(log))
		if err := agent.Start(ctx); err != nil {
			return err
		}
		defer agent.Stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		out := cmd.OutOrStdout()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				agent.Nudge()
			case v := <-session.Changes():
				if !v.Subscribed {
					fmt.Fprintf(out, "no subscription, %d free optimizations left\n", v.PromptOptimizations)
					continue
				}
				fmt.Fprintf(out, "%s %s until %s, %d free optimizations left\n",
					v.Plan, v.Status, v.CurrentPeriodEnd.Format(time.DateOnly), v.PromptOptimizations)
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "http://localhost:8080", "promptr server base URL")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "API token (defaults to $PROMPTR_TOKEN)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", syncagent.DefaultInterval, "polling interval")
}
