// Command hmsctl is the operator CLI for tenant subscriptions. It works
// directly against the configured tenant store, so the same environment
// variables as the server apply.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/firstgrade/hms/internal/auth"
	"github.com/firstgrade/hms/internal/billing"
	"github.com/firstgrade/hms/internal/config"
	"github.com/firstgrade/hms/internal/events"
	"github.com/firstgrade/hms/internal/logging"
	"github.com/firstgrade/hms/internal/plans"
	"github.com/firstgrade/hms/internal/renewal"
	"github.com/firstgrade/hms/internal/tenant"
)

// Build info - set by ldflags
var Version = "dev"

var (
	jsonOutput bool

	createName  string
	createEmail string
	createCity  string
	createPlan  string
	createCycle string

	planCycle string

	tokenRole   string
	tokenTenant string
	tokenTTL    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "hmsctl",
	Short:         "Operate tenant subscriptions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hmsctl %s\n", Version)
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List the plan catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		all := plans.Default.All()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), all)
		}
		w := table(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tMONTHLY\tYEARLY\tSTAFF\tPATIENTS\tSTORAGE GB")
		for _, p := range all {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				p.ID, p.Name, p.PriceMonthly, p.PriceYearly, p.StaffLimit, p.PatientLimit, p.StorageGBLimit)
		}
		return w.Flush()
	},
}

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Inspect and change tenants",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		ts := e.store.List()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), ts)
		}
		active := e.store.ActiveTenantID()
		w := table(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tPLAN\tCYCLE\tSTATUS\tNEXT BILLING\tVERSION\t")
		for _, t := range ts {
			mark := ""
			if t.ID == active {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.Profile.Name, t.PlanID, t.BillingCycle, t.SubscriptionStatus, t.NextBillingDate, t.Version, mark)
		}
		return w.Flush()
	}),
}

var tenantsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Onboard a tenant",
	Example: `  hmsctl tenants create --name "Kano Specialist Clinic" --plan professional --cycle monthly`,
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		if createName == "" {
			return fmt.Errorf("--name is required")
		}
		profile := tenant.Profile{Name: createName, Email: createEmail, City: createCity}
		t, err := e.service.CreateTenant(cmd.Context(), profile, plans.ID(createPlan), plans.BillingCycle(createCycle))
		if err != nil {
			return err
		}
		return printTenant(cmd.OutOrStdout(), t)
	}),
}

var tenantsStatusCmd = &cobra.Command{
	Use:   "status <tenant-id> <active|grace|suspended|expired>",
	Short: "Set a tenant's subscription status",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		t, err := e.service.UpdateSubscriptionStatus(cmd.Context(), args[0], tenant.AnyVersion, tenant.Status(args[1]))
		if err != nil {
			return err
		}
		return printTenant(cmd.OutOrStdout(), t)
	}),
}

var tenantsPlanCmd = &cobra.Command{
	Use:   "plan <tenant-id> <plan-id>",
	Short: "Move a tenant to another plan without charging",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		cycle := plans.BillingCycle(planCycle)
		if cycle == "" {
			current, err := e.store.Get(args[0])
			if err != nil {
				return err
			}
			cycle = current.BillingCycle
		}
		t, err := e.service.UpdateSubscription(cmd.Context(), args[0], tenant.AnyVersion, plans.ID(args[1]), cycle)
		if err != nil {
			return err
		}
		return printTenant(cmd.OutOrStdout(), t)
	}),
}

var tenantsSwitchCmd = &cobra.Command{
	Use:   "switch <tenant-id>",
	Short: "Make a tenant the active one",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		t, err := e.service.SwitchTenant(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printTenant(cmd.OutOrStdout(), t)
	}),
}

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "List tenants whose next billing date has passed",
	RunE: withEnv(func(cmd *cobra.Command, e *env, args []string) error {
		report := renewal.NewScanner(e.store, billing.SystemClock{}, events.Nop{}, logging.FromContext(cmd.Context())).Due()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		w := table(cmd.OutOrStdout())
		fmt.Fprintf(w, "Due as of %s\n", report.Date)
		fmt.Fprintln(w, "ID\tNAME\tPLAN\tSTATUS\tNEXT BILLING\tDAYS OVERDUE")
		for _, d := range report.Due {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", d.TenantID, d.Name, d.PlanID, d.Status, d.NextBillingDate, d.DaysOverdue)
		}
		return w.Flush()
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, tokenTTL)
		if err != nil {
			return err
		}
		role := auth.Role(tokenRole)
		if !role.Valid() {
			return auth.ErrInvalidRole
		}
		raw, err := tokens.Issue(auth.Identity{Subject: "hmsctl", Role: role, TenantID: tokenTenant})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), raw)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of a table")

	tenantsCreateCmd.Flags().StringVar(&createName, "name", "", "hospital name")
	tenantsCreateCmd.Flags().StringVar(&createEmail, "email", "", "contact email")
	tenantsCreateCmd.Flags().StringVar(&createCity, "city", "", "city")
	tenantsCreateCmd.Flags().StringVar(&createPlan, "plan", string(plans.Starter), "plan id")
	tenantsCreateCmd.Flags().StringVar(&createCycle, "cycle", string(plans.Monthly), "billing cycle (monthly|yearly)")

	tenantsPlanCmd.Flags().StringVar(&planCycle, "cycle", "", "billing cycle; defaults to the tenant's current cycle")

	tokenCmd.Flags().StringVar(&tokenRole, "role", string(auth.RoleSaaSOwner), "SaaSOwner, HospitalAdmin or Staff")
	tokenCmd.Flags().StringVar(&tokenTenant, "tenant", "", "tenant id for non-operator roles")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	tenantsCmd.AddCommand(tenantsListCmd, tenantsCreateCmd, tenantsStatusCmd, tenantsPlanCmd, tenantsSwitchCmd)
	rootCmd.AddCommand(versionCmd, plansCmd, tenantsCmd, dueCmd, tokenCmd)
}

// withEnv loads configuration and opens the tenant store around fn.
func withEnv(fn func(cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := logging.NewWithWriter(cmd.ErrOrStderr(), "warn", "text")
		ctx := logging.WithLogger(cmd.Context(), logger)
		cmd.SetContext(ctx)

		e, err := openEnv(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(cmd, e, args)
	}
}

func table(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTenant(out io.Writer, t tenant.Tenant) error {
	if jsonOutput {
		return writeJSON(out, t)
	}
	_, err := fmt.Fprintf(out, "%s  %s  plan=%s/%s  status=%s  next=%s  version=%d\n",
		t.ID, t.Profile.Name, t.PlanID, t.BillingCycle, t.SubscriptionStatus, t.NextBillingDate, t.Version)
	return err
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
