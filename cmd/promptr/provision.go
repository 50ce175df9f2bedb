package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptr-app/promptr/pkg/pg"
	"github.com/promptr-app/promptr/svc/billing"
)

var (
	provisionEmail string
	provisionToken bool
)

// provisionCmd runs onboarding for a verified user: the same step the auth
// flow triggers after email verification.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the billing customer and trial for a verified user",
	RunE: func(cmd *cobra.Command, args []string) error {
		email := strings.TrimSpace(provisionEmail)
		if email == "" {
			return fmt.Errorf("--email is required")
		}

		var (
			app       appConfig
			auth      authConfig
			pgCfg     pg.Config
			billCfg   billing.Config
			stripeCfg billing.StripeConfig
			paddleCfg billing.PaddleConfig
		)
		if err := load(section(&app), section(&pgCfg), section(&billCfg), section(&stripeCfg), section(&paddleCfg)); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log := newLogger(app)
		ctx := cmd.Context()

		// Provisioning never receives webhooks.
		billCfg.VerifyWebhooks = false
		provider, err := billing.NewProvider(billCfg, stripeCfg, paddleCfg)
		if err != nil {
			return err
		}

		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := billing.NewPGStore(pool, billCfg.FreePromptOptimizations)
		ent, err := billing.NewOnboarder(store, provider, log).
			Provision(ctx, billing.User{Email: email, EmailVerified: true})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:      %s\n", ent.User.ID)
		fmt.Fprintf(out, "customer:  %s\n", ent.User.CustomerID)
		if ent.Subscription != nil {
			fmt.Fprintf(out, "status:    %s (%s)\n", ent.Subscription.Status, ent.Subscription.Plan)
		}
		fmt.Fprintf(out, "remaining: %d\n", ent.User.PromptOptimizations)

		if provisionToken {
			if err := section(&auth)(); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			jwtSvc, err := newAuth(auth)
			if err != nil {
				return err
			}
			token, err := jwtSvc.Issue(ent.User.ID.String(), ent.User.Email, auth.TokenTTL)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "token:     %s\n", token)
		}
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionEmail, "email", "", "verified email address of the user")
	provisionCmd.Flags().BoolVar(&provisionToken, "token", false, "also issue an API token for the user")
}
