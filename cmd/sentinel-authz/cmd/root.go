// Package cmd provides the CLI commands for sentinel-authz.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sentinel-authz",
	Short: "sentinel-authz - access-control decisions over a model and policy",
	Long: `sentinel-authz answers "may subject S do action A on object O?" from an
access-control model (request, policy, role, effect and matcher sections) and
a set of policy rows.

Quick start:
  1. Create a config file: sentinel-authz.yaml
  2. Run: sentinel-authz serve

Configuration:
  Config is loaded from sentinel-authz.yaml in the current directory,
  $HOME/.sentinel-authz/, or /etc/sentinel-authz/.

  Environment variables can override config values with the SENTINEL_AUTHZ_ prefix.
  Example: SENTINEL_AUTHZ_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the HTTP decision API
  enforce     Decide a single request from the command line
  check       Load the model and policy and print a summary
  version     Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// errDenied is returned by "enforce --exit-code" when the request is denied.
var errDenied = errors.New("request denied")

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errDenied) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinel-authz.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
