package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leetstack/keygate/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		baseURL    string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.0 document describing the keygate HTTP API. The login
path and API-key header follow the effective configuration.`,
		Example: `  keygate openapi
  keygate openapi --base-url https://auth.example.com -o openapi.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(viper.GetViper(), cmd.OutOrStdout(), baseURL, outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write spec to file instead of stdout")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Server URL to embed in the document")

	return cmd
}

func runOpenAPI(v *viper.Viper, out io.Writer, baseURL, outputFile string) error {
	cfg, err := loadSettings(v)
	if err != nil {
		return err
	}

	doc := openapi.GenerateAuthSpec(openapi.Options{
		Version:      versionString(),
		BaseURL:      baseURL,
		LoginPath:    cfg.Auth.LoginPath,
		APIKeyHeader: cfg.Auth.APIKeyHeader,
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("render openapi document: %w", err)
	}

	if outputFile == "" {
		_, err := fmt.Fprintln(out, string(data))
		return err
	}
	if err := os.WriteFile(outputFile, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(out, "Wrote %s\n", outputFile)
	return nil
}
