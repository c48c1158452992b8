package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilotauth/pilot/internal/license"
)

func newLicenseCmd() *cobra.Command {
	ck := &customerKeyFlag{}

	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage license keys",
		Long: `Issue, edit, inspect and list license keys, and run the end-user client
operations (assign-hwid, signin) from the command line.`,
	}
	cmd.PersistentFlags().StringVar(&ck.value, "customer-key", "", "Customer API key (not needed for assign-hwid and signin)")

	cmd.AddCommand(newLicenseGenerateCmd(ck))
	cmd.AddCommand(newLicenseEditCmd(ck))
	cmd.AddCommand(newLicenseGetCmd(ck))
	cmd.AddCommand(newLicenseListCmd(ck))
	cmd.AddCommand(newLicenseAssignHWIDCmd())
	cmd.AddCommand(newLicenseSignInCmd())

	return cmd
}

// withClient opens the environment for the routes that need no customer key.
func withClient(fn func(ctx context.Context, env *cliEnv) error) error {
	ctx := context.Background()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	return fn(ctx, env)
}

// ---------- license generate ----------

func newLicenseGenerateCmd(ck *customerKeyFlag) *cobra.Command {
	var in license.GenerateLicenseInput

	cmd := &cobra.Command{
		Use:     "generate <app_key>",
		Aliases: []string{"gen"},
		Short:   "Issue a license under an application",
		Example: `  pilot license generate PilotK0Q4Z1M2X3C4V5B6N-alice --plan pro --days 30 --username bob`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.AppKey = args[0]
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				in.CustomerKey = key
				lic, err := env.svc.GenerateLicense(ctx, in)
				if err != nil {
					return describeError(err)
				}
				return printJSON(os.Stdout, lic)
			})
		},
	}

	cmd.Flags().StringVar(&in.Plan, "plan", "", "Plan name (required)")
	cmd.Flags().IntVar(&in.ExpiryDays, "days", 30, "Days from today until expiry")
	cmd.Flags().StringVar(&in.Username, "username", "", "End user the license is for (required)")
	cmd.Flags().StringVar(&in.HWID, "hwid", "", "Hardware ID to bind immediately")
	cmd.MarkFlagRequired("plan")
	cmd.MarkFlagRequired("username")

	return cmd
}

// ---------- license edit ----------

func newLicenseEditCmd(ck *customerKeyFlag) *cobra.Command {
	var newKey, expiry, plan, hwid string

	cmd := &cobra.Command{
		Use:   "edit <app_key> <license_key>",
		Short: "Change fields of a license",
		Long: `Change the given fields of a license. Fields whose flag is not passed are
kept. --hwid is an administrative override and ignores the HWID cooldown.`,
		Example: `  pilot license edit $APP $LIC --expiry 2026-01-31
  pilot license edit $APP $LIC --expiry 90 --plan gold`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := license.EditLicenseInput{AppKey: args[0], LicenseKey: args[1]}
			flags := cmd.Flags()
			if flags.Changed("new-key") {
				in.NewLicenseKey = &newKey
			}
			if flags.Changed("expiry") {
				in.Expiry = &expiry
			}
			if flags.Changed("plan") {
				in.Plan = &plan
			}
			if flags.Changed("hwid") {
				in.HWID = &hwid
			}
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				in.CustomerKey = key
				lic, err := env.svc.EditLicense(ctx, in)
				if err != nil {
					return describeError(err)
				}
				return printJSON(os.Stdout, lic)
			})
		},
	}

	cmd.Flags().StringVar(&newKey, "new-key", "", "Rename the license")
	cmd.Flags().StringVar(&expiry, "expiry", "", "YYYY-MM-DD or a number of days from today")
	cmd.Flags().StringVar(&plan, "plan", "", "New plan")
	cmd.Flags().StringVar(&hwid, "hwid", "", "New hardware ID")

	return cmd
}

// ---------- license get ----------

func newLicenseGetCmd(ck *customerKeyFlag) *cobra.Command {
	return &cobra.Command{
		Use:   "get <app_key> <license_key>",
		Short: "Show a license and its current state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				detail, err := env.svc.GetLicense(ctx, key, args[0], args[1])
				if err != nil {
					return describeError(err)
				}
				return printJSON(os.Stdout, detail)
			})
		},
	}
}

// ---------- license list ----------

func newLicenseListCmd(ck *customerKeyFlag) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <app_key>",
		Aliases: []string{"ls"},
		Short:   "List the licenses issued under an application",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				detail, err := env.svc.GetApplication(ctx, key, args[0])
				if err != nil {
					return describeError(err)
				}
				if jsonOutput {
					return printJSON(os.Stdout, detail.Licenses)
				}
				if len(detail.Licenses) == 0 {
					fmt.Println("No licenses issued under this application.")
					return nil
				}
				fmt.Printf("%-34s %-12s %-12s %-16s %s\n", "LICENSE KEY", "PLAN", "EXPIRY", "USERNAME", "HWID")
				for _, l := range detail.Licenses {
					fmt.Printf("%-34s %-12s %-12s %-16s %s\n", l.LicenseKey, l.Plan, l.ExpiresOn(), l.Username, l.HWID)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license assign-hwid ----------

func newLicenseAssignHWIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign-hwid <app_key> <license_key> <hwid>",
		Short: "Bind a license to a hardware ID, as a client would",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, env *cliEnv) error {
				if _, err := env.svc.AssignHWID(ctx, args[0], args[1], args[2]); err != nil {
					return describeError(err)
				}
				fmt.Println("HWID assigned successfully")
				return nil
			})
		},
	}
}

// ---------- license signin ----------

func newLicenseSignInCmd() *cobra.Command {
	var hwid string

	cmd := &cobra.Command{
		Use:   "signin <app_key> <license_key>",
		Short: "Validate a license as a client would",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, env *cliEnv) error {
				view, err := env.svc.SignIn(ctx, args[0], args[1], hwid)
				if err != nil {
					return describeError(err)
				}
				return printJSON(os.Stdout, view)
			})
		},
	}

	cmd.Flags().StringVar(&hwid, "hwid", "", "Hardware ID presented by the client")

	return cmd
}
