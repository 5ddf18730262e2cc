package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/domainverify/internal/audit"
	"github.com/spf13/cobra"
)

var auditTailN int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the verification audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the audit log hash chain end to end",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			ledger := audit.NewPostgresLedger(e.pool, e.logger)
			if err := ledger.Verify(ctx); err != nil {
				return fmt.Errorf("audit log is NOT intact: %w", err)
			}
			root, err := ledger.Root(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "audit log intact, root %s\n", root)
			return nil
		})
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			entries, err := audit.NewPostgresLedger(e.pool, e.logger).Tail(ctx, auditTailN)
			if err != nil {
				return err
			}
			if outFormat == "json" {
				if entries == nil {
					entries = []*audit.Entry{}
				}
				return printJSON(cmd, entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tRECORDED\tACTION\tSUBJECT\tHASH")
			for _, en := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					en.Index, en.RecordedAt.Format(time.RFC3339), en.Action, en.Subject, en.Hash[:12])
			}
			return w.Flush()
		})
	},
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailN, "lines", "n", 20, "Number of entries to show")
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}
