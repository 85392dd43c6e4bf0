package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/config"
	"fitcoach-gateway/internal/quota"
)

func newUsageCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <subject>...",
		Short: "Show today's assistant usage for subjects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			b, err := openBackends(ctx, cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer b.close(context.Background())

			usage, err := newUsageStore(cfg, b)
			if err != nil {
				return err
			}
			entitlements, err := newEntitlementStore(cfg, b)
			if err != nil {
				return err
			}
			gate := quota.NewGate(entitlements, usage, quota.Config{
				DailyLimit: cfg.Quota.DailyLimit,
				AdminIDs:   cfg.Quota.AdminIDs,
			}, nil)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SUBJECT\tDAY\tUSED\tLIMIT\tREMAINING\tRESETS")
			for _, id := range args {
				st, err := gate.Status(ctx, auth.Subject{ID: id})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					st.SubjectID, st.Day, st.Used, count(st.Limit), count(int64(st.Remaining)),
					st.ResetAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func count(n int64) string {
	if n == quota.Unlimited {
		return "unlimited"
	}
	return fmt.Sprint(n)
}
