package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pilotauth/pilot/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Pilot configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default pilot.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().StringVarP(&path, "output", "o", "pilot.yaml", "Path of the file to create")

	return cmd
}

func runConfigInit(path string, force bool) error {
	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove existing config: %w", err)
		}
	} else if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Pick a store driver, then run 'pilot customer-key add' and 'pilot serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long:  "Print the configuration after defaults, the config file and PILOT_* environment variables are applied. Credentials are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if f := viper.ConfigFileUsed(); f != "" {
		fmt.Printf("# Config file: %s\n", f)
	} else {
		fmt.Println("# Config file: (none found, using defaults)")
	}

	data, err := cfg.Redacted().Marshal()
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
