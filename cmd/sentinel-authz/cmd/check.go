package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/config"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the model and policy and print a summary",
	Long: `Load the configured model and policy exactly as "serve" would and print
what was loaded. Exits non-zero if the configuration, the model or the
policy cannot be loaded.

Examples:
  sentinel-authz check

  # Also list every rule
  sentinel-authz check --rules

  # Print the effective configuration after defaults
  sentinel-authz check --yaml`,
	RunE: runCheck,
}

var (
	checkRules bool
	checkYAML  bool
)

func init() {
	checkCmd.Flags().BoolVar(&checkRules, "rules", false, "list every policy and grouping rule")
	checkCmd.Flags().BoolVar(&checkYAML, "yaml", false, "print the effective configuration as YAML")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return check(ctx, cfg, logger, cmd.OutOrStdout(), checkRules, checkYAML)
}

// check builds an enforcer from cfg and writes a summary to out.
func check(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, listRules, dumpYAML bool) error {
	if dumpYAML {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	e, err := enforcerFactory(cfg, b.adapter, logger)(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "adapter:   %s\n", cfg.Policy.Adapter)
	fmt.Fprintf(out, "policies:  %d\n", len(e.GetPolicy()))
	fmt.Fprintf(out, "groupings: %d\n", len(e.GetGroupingPolicy()))
	fmt.Fprintf(out, "subjects:  %s\n", strings.Join(e.GetAllSubjects(), ", "))
	fmt.Fprintf(out, "roles:     %s\n", strings.Join(e.GetAllRoles(), ", "))

	if listRules {
		for _, row := range persist.PolicyRows(e.Model()) {
			fmt.Fprintln(out, persist.FormatRule(row[0], row[1:]))
		}
	}
	return nil
}
