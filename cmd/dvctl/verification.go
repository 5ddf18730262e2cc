package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/domainverify/internal/app"
	"github.com/jmerrifield20/domainverify/internal/auth"
	"github.com/jmerrifield20/domainverify/internal/config"
	"github.com/jmerrifield20/domainverify/internal/database"
	"github.com/jmerrifield20/domainverify/internal/dns"
	"github.com/jmerrifield20/domainverify/internal/verification/model"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(createCmd, getCmd, listCmd, checkCmd, resetCmd, deleteCmd, sweepCmd, txtCmd, tokenCmd, migrateCmd)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid ID %q: %w", s, err)
	}
	return id, nil
}

// ── create ───────────────────────────────────────────────────────────────────

var createdBy string

var createCmd = &cobra.Command{
	Use:   "create <org-id> <domain>",
	Short: "Start a domain verification for an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := parseID(args[0])
		if err != nil {
			return err
		}
		var by *uuid.UUID
		if createdBy != "" {
			id, err := parseID(createdBy)
			if err != nil {
				return err
			}
			by = &id
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			v, err := e.svc.CreateDomainVerification(ctx, orgID, args[1], by)
			if err != nil {
				return err
			}
			return printVerification(cmd, e.svc, v)
		})
	},
}

func init() {
	createCmd.Flags().StringVar(&createdBy, "created-by", "", "User ID recorded as the creator")
}

// ── get ──────────────────────────────────────────────────────────────────────

var getIncludeDeleted bool

var getCmd = &cobra.Command{
	Use:   "get <verification-id>",
	Short: "Show a domain verification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			v, err := e.svc.FindByID(ctx, id, getIncludeDeleted)
			if err != nil {
				return err
			}
			return printVerification(cmd, e.svc, v)
		})
	},
}

func init() {
	getCmd.Flags().BoolVar(&getIncludeDeleted, "include-deleted", false, "Also show deleted verifications")
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listOrg            string
	listDomain         string
	listStatus         string
	listIncludeDeleted bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List domain verifications by organization or status",
	Long: `list shows verifications of one organization (--org, optionally narrowed
with --domain) or every verification in a status (--status).

  dvctl list --org 5f0c... --include-deleted
  dvctl list --status PENDING`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (listOrg == "") == (listStatus == "") {
			return errors.New("exactly one of --org or --status is required")
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			var (
				list []*model.DomainVerification
				err  error
			)
			switch {
			case listStatus != "":
				list, err = e.svc.FindByStatus(ctx, model.VerificationStatus(strings.ToUpper(listStatus)), listIncludeDeleted)
			case listDomain != "":
				orgID, perr := parseID(listOrg)
				if perr != nil {
					return perr
				}
				list, err = e.svc.FindByOrganizationIDAndDomain(ctx, orgID, listDomain, listIncludeDeleted)
			default:
				orgID, perr := parseID(listOrg)
				if perr != nil {
					return perr
				}
				list, err = e.svc.FindByOrganizationID(ctx, orgID, listIncludeDeleted)
			}
			if err != nil {
				return err
			}
			return printVerificationList(cmd, list)
		})
	},
}

func init() {
	listCmd.Flags().StringVar(&listOrg, "org", "", "Organization ID")
	listCmd.Flags().StringVar(&listDomain, "domain", "", "Domain (with --org)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "PENDING, VERIFIED, FAILED or EXPIRED")
	listCmd.Flags().BoolVar(&listIncludeDeleted, "include-deleted", false, "Include deleted verifications")
}

// ── check / reset / delete ───────────────────────────────────────────────────

var checkCmd = &cobra.Command{
	Use:   "check <verification-id>",
	Short: "Look up the TXT record now and apply the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			v, err := e.svc.CheckAndUpdateVerification(ctx, id)
			if err != nil {
				return err
			}
			return printVerification(cmd, e.svc, v)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <verification-id>",
	Short: "Restart a FAILED or EXPIRED verification with a new token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			v, err := e.svc.ResetDomainVerification(ctx, id)
			if err != nil {
				return err
			}
			return printVerification(cmd, e.svc, v)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <verification-id>",
	Short: "Delete a verification and its SSO email-domain enforcement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			if err := e.svc.DeleteDomainVerification(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		})
	},
}

// ── sweep ────────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Check every PENDING verification once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			sched, err := app.NewScheduler(e.cfg.Scheduler, e.svc, e.logger)
			if err != nil {
				return err
			}
			report, err := sched.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending: %d  checked: %d  skipped: %d  verified: %d  failed: %d  expired: %d\n",
				report.Pending, report.Checked, report.Skipped,
				report.Transitions[model.StatusVerified],
				report.Transitions[model.StatusFailed],
				report.Transitions[model.StatusExpired],
			)
			return report.Err
		})
	},
}

// ── txt ──────────────────────────────────────────────────────────────────────

var txtCmd = &cobra.Command{
	Use:   "txt <host>",
	Short: "Show the TXT records published at a host as the verifier sees them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		resolver, err := app.NewResolver(cfg.DNS)
		if err != nil {
			return err
		}
		lookupCfg := dns.LookupConfig{Timeout: cfg.DNS.Timeout, Retries: cfg.DNS.Retries}
		records := dns.NewTXTLookup(resolver, lookupCfg, newLogger()).LookupTXT(cmd.Context(), args[0])
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no TXT records")
			return nil
		}
		for _, raw := range records {
			rec, ok := dns.ParseRecord(raw)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t(not attribute=value)\n", raw)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t-> %s\n", raw, rec.Normalize())
		}
		return nil
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenOrgs  []string
	tokenAdmin bool
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an API bearer token signed with auth.jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl == 0 {
			ttl = cfg.Auth.TokenTTL
		}
		issuer, err := auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, ttl)
		if err != nil {
			return err
		}

		orgIDs := make([]uuid.UUID, 0, len(tokenOrgs))
		for _, s := range tokenOrgs {
			id, err := parseID(s)
			if err != nil {
				return err
			}
			orgIDs = append(orgIDs, id)
		}
		role := ""
		if tokenAdmin {
			role = auth.RoleAdmin
		}

		tok, err := issuer.Issue(args[0], orgIDs, role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringSliceVar(&tokenOrgs, "org", nil, "Organization IDs the token may manage (repeatable)")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "Grant the admin role")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default auth.token_ttl)")
}

// ── migrate ──────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the database schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			switch action {
			case "down":
				return database.Rollback(ctx, e.pool, e.logger)
			case "version":
				v, err := database.Version(ctx, e.pool, e.logger)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			default:
				return database.Migrate(ctx, e.pool, e.logger)
			}
		})
	},
}
