package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newAppCmd() *cobra.Command {
	ck := &customerKeyFlag{}

	cmd := &cobra.Command{
		Use:     "app",
		Aliases: []string{"application"},
		Short:   "Manage applications",
		Long: `Create, list, pause, unpause, inspect and delete applications.
Every subcommand acts for a customer API key given by --customer-key,
PILOT_CUSTOMER_KEY or a prompt.`,
	}
	cmd.PersistentFlags().StringVar(&ck.value, "customer-key", "", "Customer API key")

	cmd.AddCommand(newAppCreateCmd(ck))
	cmd.AddCommand(newAppListCmd(ck))
	cmd.AddCommand(newAppGetCmd(ck))
	cmd.AddCommand(newAppActionCmd(ck, "pause", "Stop new licenses from being issued under an application", "paused"))
	cmd.AddCommand(newAppActionCmd(ck, "unpause", "Resume license issuance under an application", "unpaused"))
	cmd.AddCommand(newAppActionCmd(ck, "delete", "Delete an application and every license under it", "deleted"))

	return cmd
}

// withService resolves the customer key, opens the environment and runs fn.
func withService(ck *customerKeyFlag, fn func(ctx context.Context, env *cliEnv, customerKey string) error) error {
	key, err := ck.resolve()
	if err != nil {
		return fmt.Errorf("customer key: %w", err)
	}
	ctx := context.Background()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()
	return fn(ctx, env, key)
}

// ---------- app create ----------

func newAppCreateCmd(ck *customerKeyFlag) *cobra.Command {
	return &cobra.Command{
		Use:     "create <username>",
		Short:   "Create an application owned by username",
		Example: `  pilot app create alice --customer-key $KEY`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				app, err := env.svc.CreateApplication(ctx, key, args[0])
				if err != nil {
					return describeError(err)
				}
				return printJSON(os.Stdout, app)
			})
		},
	}
}

// ---------- app list ----------

func newAppListCmd(ck *customerKeyFlag) *cobra.Command {
	var (
		page int
		all  bool
	)

	cmd := &cobra.Command{
		Use:     "list <username>",
		Aliases: []string{"ls"},
		Short:   "List the applications owned by username",
		Long: `List the application keys owned by username. With --all, list every record
key ending in -username a page at a time, which also finds records written
before the per-user index existed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				if all {
					p, err := env.svc.ListKeysForUsername(ctx, key, args[0], page)
					if err != nil {
						return describeError(err)
					}
					return printJSON(os.Stdout, p)
				}
				keys, err := env.svc.ListApplicationsForUser(ctx, key, args[0])
				if err != nil {
					return describeError(err)
				}
				if len(keys) == 0 {
					fmt.Printf("No applications for %s.\n", args[0])
					return nil
				}
				for _, k := range keys {
					fmt.Println(k)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List all record keys ending in -username")
	cmd.Flags().IntVar(&page, "page", 1, "Page to show with --all")

	return cmd
}

// ---------- app get ----------

func newAppGetCmd(ck *customerKeyFlag) *cobra.Command {
	return &cobra.Command{
		Use:   "get <app_key>",
		Short: "Show an application and its licenses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				detail, err := env.svc.GetApplication(ctx, key, args[0])
				if err != nil {
					return describeError(err)
				}
				return printJSON(os.Stdout, detail)
			})
		},
	}
}

// ---------- app pause / unpause / delete ----------

func newAppActionCmd(ck *customerKeyFlag, use, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <app_key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(ck, func(ctx context.Context, env *cliEnv, key string) error {
				var err error
				switch use {
				case "pause":
					err = env.svc.PauseApplication(ctx, key, args[0])
				case "unpause":
					err = env.svc.UnpauseApplication(ctx, key, args[0])
				case "delete":
					err = env.svc.DeleteApplication(ctx, key, args[0])
				}
				if err != nil {
					return describeError(err)
				}
				fmt.Printf("Application key has been %s\n", done)
				return nil
			})
		},
	}
}
