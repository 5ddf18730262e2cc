package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/domainverify/internal/app"
	"github.com/jmerrifield20/domainverify/internal/config"
	"github.com/jmerrifield20/domainverify/internal/database"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/jmerrifield20/domainverify/internal/verification/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile   string
	outFormat string
	verbose   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dvctl",
	Short: "Domain verification admin CLI",
	Long: `dvctl manages domain ownership verifications directly against the
service database. It reads the same configuration as the server
(configs/domainverify.yaml and environment variables such as DATABASE_URL).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/domainverify.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outFormat, "format", "o", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log service activity to stderr")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dvctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

// env holds what a database-backed command needs.
type env struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	svc    *service.VerificationService
	events *app.Events
	logger *zap.Logger
}

func (e *env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.events.Wait(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "warning: webhook deliveries did not finish")
	}
	e.pool.Close()
	_ = e.logger.Sync()
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// openEnv loads config, connects to the database and builds the service.
func openEnv(ctx context.Context) (*env, error) {
	cfg, _, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger := newLogger()

	pool, err := database.Connect(ctx, database.Config{
		URL:           cfg.Database.URL,
		MaxConns:      4,
		RetryAttempts: 1,
	}, logger)
	if err != nil {
		return nil, err
	}

	svc, err := app.NewVerificationService(cfg, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	events := app.NewEvents(cfg, pool, logger)
	svc.SetEventDispatch(events.Dispatch)
	return &env{cfg: cfg, pool: pool, svc: svc, events: events, logger: logger}, nil
}

// withEnv runs fn with an open env and closes it afterwards.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printVerification prints one verification with its DNS instructions.
func printVerification(cmd *cobra.Command, svc *service.VerificationService, v *model.DomainVerification) error {
	in := svc.Instructions(v)
	if outFormat == "json" {
		return printJSON(cmd, struct {
			*model.DomainVerification
			Instructions service.DNSInstructions `json:"instructions"`
		}{v, in})
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", v.ID)
	fmt.Fprintf(w, "Organization:\t%s\n", v.OrganizationID)
	fmt.Fprintf(w, "Domain:\t%s\n", v.Domain)
	fmt.Fprintf(w, "Status:\t%s\n", v.Status)
	fmt.Fprintf(w, "Attempts:\t%d\n", v.Attempts)
	fmt.Fprintf(w, "Last checked:\t%s\n", formatTime(v.LastCheckedAt))
	fmt.Fprintf(w, "Verified at:\t%s\n", formatTime(v.VerifiedAt))
	fmt.Fprintf(w, "Expires at:\t%s\n", v.ExpiresAt.Format(time.RFC3339))
	if v.Tombstone {
		fmt.Fprintf(w, "Deleted:\tyes\n")
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if v.Status == model.StatusPending && !v.Tombstone {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Publish this DNS record:")
		fmt.Fprintf(cmd.OutOrStdout(), "  Host:  %s\n", in.Host)
		fmt.Fprintf(cmd.OutOrStdout(), "  Type:  %s\n", in.Type)
		fmt.Fprintf(cmd.OutOrStdout(), "  Value: %s\n", in.Value)
	}
	return nil
}

func printVerificationList(cmd *cobra.Command, list []*model.DomainVerification) error {
	if outFormat == "json" {
		if list == nil {
			list = []*model.DomainVerification{}
		}
		return printJSON(cmd, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no verifications")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tORGANIZATION\tDOMAIN\tSTATUS\tATTEMPTS\tEXPIRES\tDELETED")
	for _, v := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
			v.ID, v.OrganizationID, v.Domain, v.Status, v.Attempts,
			v.ExpiresAt.Format(time.RFC3339), v.Tombstone)
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
