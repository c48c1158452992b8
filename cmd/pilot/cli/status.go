package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/pilotauth/pilot/internal/model"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the Pilot server is running",
		Long:  "Query the readiness probe of a running Pilot server and report its store health.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Server base URL (default derived from server.host and server.port)")

	return cmd
}

func runStatus(baseURL string) error {
	if baseURL == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
	}

	readyAddr := baseURL + "/readyz"
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Printf("Server is not responding at %s.\n", baseURL)
		return nil
	}
	defer resp.Body.Close()

	var health model.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode readiness response: %w", err)
	}

	fmt.Printf("Server is %s (%d)\n", health.Status, resp.StatusCode)
	if health.Version != "" {
		fmt.Printf("  Version: %s\n", health.Version)
	}
	for name, state := range health.Checks {
		fmt.Printf("  %-8s %s\n", name+":", state)
	}
	return nil
}
