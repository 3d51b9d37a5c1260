package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"retailcore/backend/internal/config"
	"retailcore/backend/internal/domain"
	"retailcore/backend/internal/service"
	pgstore "retailcore/backend/internal/store/postgres"
)

var errInconsistent = errors.New("stock ledger is inconsistent")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tools for the payment and inventory ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(reconcileCmd())
	cmd.AddCommand(sweepIntentsCmd())
	return cmd
}

func reconcileCmd() *cobra.Command {
	var warehouse string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check that every stock record equals the sum of its movements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := svc.Reconcile(cmd.Context(), warehouse)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&warehouse, "warehouse", "w", "", "limit the check to one warehouse")
	return cmd
}

func sweepIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-intents",
		Short: "Fail pending payment intents whose reservation window has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := svc.ExpirePendingIntents(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep intents: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d payment intents\n", count)
			return nil
		},
	}
}

func openService(ctx context.Context) (*service.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}

	repo, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	svc := service.New(repo, service.Options{
		Logger:          logger,
		IntentTTL:       cfg.IntentTTL,
		DefaultMinStock: cfg.DefaultMinStock,
	})
	return svc, func() {
		svc.Wait()
		_ = repo.Close()
		_ = logger.Sync()
	}, nil
}

// printReport lists inconsistent records and returns errInconsistent when
// there are any.
func printReport(out io.Writer, report domain.ReconciliationReport) error {
	fmt.Fprintf(out, "checked %d records, %d inconsistent\n", report.Checked, report.Inconsistent)
	if report.Inconsistent == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tWAREHOUSE\tAVAILABLE\tMOVEMENT SUM")
	for _, row := range report.Records {
		if row.Consistent {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", row.ItemID, row.WarehouseID, row.Available, row.MovementSum)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return errInconsistent
}
