package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pilotauth/pilot/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		serverURL  string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 document describing every /auth route, its
parameters, response schemas and error codes.`,
		Example: `  pilot openapi                                  # print to stdout
  pilot openapi --server https://auth.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(serverURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Server URL listed in the document (default derived from config)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")

	return cmd
}

func runOpenAPI(serverURL, outputFile string) error {
	if serverURL == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		serverURL = "http://" + cfg.Addr()
	}

	doc := openapi.Generate(serverURL, versionString())
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal openapi document: %w", err)
	}

	if outputFile == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(outputFile, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", outputFile)
	return nil
}
