package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/config"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

var enforceCmd = &cobra.Command{
	Use:   "enforce VALUE...",
	Short: "Decide a single request from the command line",
	Long: `Decide one request against the configured model and policy and print
"allow" or "deny". Values are given in request definition order.

Examples:
  sentinel-authz enforce alice data1 read

  # Print the policy row that decided the request
  sentinel-authz enforce --explain alice data1 read

  # Exit with status 1 when denied (for scripts)
  sentinel-authz enforce --exit-code alice data1 write`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnforce,
}

var (
	enforceExplain  bool
	enforceExitCode bool
)

func init() {
	enforceCmd.Flags().BoolVar(&enforceExplain, "explain", false, "print the policy row that decided the request")
	enforceCmd.Flags().BoolVar(&enforceExitCode, "exit-code", false, "exit with status 1 when the request is denied")
	rootCmd.AddCommand(enforceCmd)
}

func runEnforce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, cmd.ErrOrStderr())

	allowed, err := enforceOnce(cmd.Context(), cfg, logger, cmd.OutOrStdout(), enforceExplain, args)
	if err != nil {
		return err
	}
	if !allowed && enforceExitCode {
		return errDenied
	}
	return nil
}

// enforceOnce decides rvals and writes the verdict to out.
func enforceOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, explain bool, rvals []string) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return false, err
	}
	defer b.close()

	authz, err := service.NewAuthzService(ctx, enforcerFactory(cfg, b.adapter, logger), logger,
		service.WithCacheSize(0))
	if err != nil {
		return false, err
	}

	d, err := authz.Enforce(ctx, rvals...)
	if err != nil {
		return false, err
	}

	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	fmt.Fprintln(out, verdict)
	if explain && len(d.Explain) > 0 {
		fmt.Fprintf(out, "explain: %s\n", strings.Join(d.Explain, ", "))
	}
	return d.Allowed, nil
}
