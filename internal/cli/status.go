package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andris/kova/internal/config"
	"github.com/andris/kova/pkg/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and store summary",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s\n", loader.GetConfigPath())
	fmt.Fprintf(out, "Data dir: %s\n", cfg.DataDir)
	fmt.Fprintf(out, "Providers: openai=%v anthropic=%v\n",
		cfg.Providers.OpenAI.APIKey != "", cfg.Providers.Anthropic.APIKey != "")
	fmt.Fprintf(out, "Agents configured: %d\n", len(cfg.Agents))
	fmt.Fprintf(out, "Routes: %d\n", len(cfg.Routes))
	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	} else {
		fmt.Fprintln(out, "Metrics: disabled")
	}

	// Session counts come straight from the store; an absent store reads
	// as empty.
	sessions, err := session.NewManager(filepath.Join(cfg.DataDir, "sessions.db"), zerolog.Nop())
	if err == nil {
		defer sessions.Close()
		if list, err := sessions.List(context.Background()); err == nil {
			fmt.Fprintf(out, "Sessions: %d\n", len(list))
		}
	}
	return nil
}
