package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/config"
	"fitcoach-gateway/internal/quota"
)

func newEntitlementCmd(configPath *string) *cobra.Command {
	var (
		tier   string
		status string
		trial  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "entitlement <subject>",
		Short: "Set a subject's plan in the sqlite entitlement store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Entitlements.Backend != "sqlite" {
				return errors.New("entitlements.backend must be sqlite to write entitlements")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			b, err := openBackends(ctx, cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer b.close(context.Background())

			store, err := quota.NewSQLiteEntitlementStore(b.db)
			if err != nil {
				return err
			}

			e := quota.Entitlement{SubjectID: args[0], PlanTier: tier, Status: status}
			if trial > 0 {
				ends := time.Now().UTC().Add(trial)
				e.TrialEndsAt = &ends
			}
			if err := store.Upsert(ctx, e); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: plan=%s status=%s active=%v\n",
				e.SubjectID, e.PlanTier, e.Status, e.Active(time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&tier, "tier", "pro", "plan tier")
	cmd.Flags().StringVar(&status, "status", quota.StatusActive, "subscription status")
	cmd.Flags().DurationVar(&trial, "trial", 0, "grant a trial ending this far from now")
	return cmd
}
