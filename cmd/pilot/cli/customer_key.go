package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilotauth/pilot/internal/model"
)

func newCustomerKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "customer-key",
		Aliases: []string{"ck"},
		Short:   "Manage customer API keys",
		Long:    "Provision, list and revoke the customer API keys that gate application and license management.",
	}

	cmd.AddCommand(newCustomerKeyAddCmd())
	cmd.AddCommand(newCustomerKeyListCmd())
	cmd.AddCommand(newCustomerKeyRevokeCmd())

	return cmd
}

// ---------- customer-key add ----------

func newCustomerKeyAddCmd() *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "add [key]",
		Short: "Provision a customer API key",
		Long: `Provision a customer API key. Pass the key as an argument, use --generate
to create a random one, or omit both to be prompted without echo.`,
		Example: `  pilot customer-key add --generate
  pilot customer-key add`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			switch {
			case len(args) == 1:
				key = args[0]
			case generate:
				k, err := generateCustomerKey()
				if err != nil {
					return err
				}
				key = k
			default:
				k, err := readSecret("New customer API key: ")
				if err != nil {
					return err
				}
				key = k
			}
			return runCustomerKeyAdd(key, generate)
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a random key")

	return cmd
}

// generateCustomerKey returns "pilot_" followed by 32 random bytes in hex.
func generateCustomerKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return "pilot_" + hex.EncodeToString(b), nil
}

func runCustomerKeyAdd(key string, show bool) error {
	ctx := context.Background()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.store.AddCustomerKey(ctx, key); err != nil {
		return fmt.Errorf("add customer key: %w", err)
	}

	fmt.Println("Customer API key provisioned:")
	fmt.Println()
	if show {
		fmt.Printf("  Key:    %s\n", key)
		fmt.Println()
		fmt.Println("  Save this key now - it is not shown again.")
	} else {
		fmt.Printf("  Prefix: %s\n", model.KeyPrefix(key))
	}
	return nil
}

// ---------- customer-key list ----------

func newCustomerKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List customer API keys by prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCustomerKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runCustomerKeyList(jsonOutput bool) error {
	ctx := context.Background()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	keys, err := env.store.ListCustomerKeys(ctx)
	if err != nil {
		return fmt.Errorf("list customer keys: %w", err)
	}

	rows := make([]model.CustomerKey, len(keys))
	for i, k := range keys {
		rows[i] = model.CustomerKey{Prefix: model.KeyPrefix(k)}
	}

	if jsonOutput {
		return printJSON(os.Stdout, rows)
	}

	if len(rows) == 0 {
		fmt.Println("No customer keys provisioned. Use 'pilot customer-key add' to create one.")
		return nil
	}

	fmt.Println("PREFIX")
	fmt.Println("------")
	for _, r := range rows {
		fmt.Printf("%s...\n", r.Prefix)
	}
	return nil
}

// ---------- customer-key revoke ----------

func newCustomerKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [key]",
		Short: "Revoke a customer API key",
		Long:  "Remove a customer API key. Applications created with it are kept. Omit the key to be prompted without echo.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				k, err := readSecret("Customer API key to revoke: ")
				if err != nil {
					return err
				}
				key = k
			}
			return runCustomerKeyRevoke(key)
		},
	}
}

func runCustomerKeyRevoke(key string) error {
	ctx := context.Background()
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	removed, err := env.store.RemoveCustomerKey(ctx, key)
	if err != nil {
		return fmt.Errorf("revoke customer key: %w", err)
	}
	if !removed {
		return fmt.Errorf("no customer key with prefix %q is provisioned", model.KeyPrefix(key))
	}

	fmt.Printf("Revoked customer key %s...\n", model.KeyPrefix(key))
	return nil
}
