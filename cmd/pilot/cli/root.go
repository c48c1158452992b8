package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pilotauth/pilot/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve and the probes
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pilot",
		Short: "License key service for desktop applications",
		Long: `Pilot: issue, bind and validate license keys for your applications.

Customers hold an API key that lets them create applications and issue
32-character license keys with an expiry and a plan. End-user clients sign in
with the application key and their license key, optionally binding the license
to a hardware ID.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pilot.yaml or ~/.pilot/pilot.yaml)")
	cmd.PersistentFlags().String("store", "", "store driver: redis, sqlite, postgres, mysql or memory")
	cmd.PersistentFlags().String("data-dir", "", "data directory for the sqlite store")
	viper.BindPFlag("store.driver", cmd.PersistentFlags().Lookup("store"))
	viper.BindPFlag("sql.data_dir", cmd.PersistentFlags().Lookup("data-dir"))

	cobra.OnInitialize(initConfig)

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newCustomerKeyCmd())
	cmd.AddCommand(newAppCmd())
	cmd.AddCommand(newLicenseCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newBenchmarkCmd())

	return cmd
}

// configErr holds a failure from initConfig. Commands that need the
// configuration report it from loadConfig.
var configErr error

// initConfig layers the configuration: built-in defaults, then the config
// file, then PILOT_* environment variables (a .env file in the working
// directory is loaded first), then bound flags.
func initConfig() {
	_ = godotenv.Load() // .env is optional

	defaults, err := config.Default().Marshal()
	if err != nil {
		configErr = err
		return
	}
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(bytes.NewReader(defaults)); err != nil {
		configErr = fmt.Errorf("load defaults: %w", err)
		return
	}

	if path := findConfigFile(); path != "" {
		data, err := config.ReadFile(path)
		if err != nil {
			configErr = err
			return
		}
		if err := viper.MergeConfig(bytes.NewReader(data)); err != nil {
			configErr = fmt.Errorf("parse config file %s: %w", path, err)
			return
		}
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("PILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// findConfigFile returns --config if given, otherwise the first pilot.yaml
// found in the search path, or "" if there is none.
func findConfigFile() string {
	if cfgFile != "" {
		return cfgFile
	}
	candidates := []string{"pilot.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pilot", "pilot.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadConfig decodes the layered settings into a validated config.Config.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
