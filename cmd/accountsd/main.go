// Command accountsd serves the OAuth2/OIDC endpoints over HTTP.
//
// Configuration is read from an optional YAML/TOML/JSON file, ACCOUNTS_*
// environment variables (a .env file in the working directory is loaded
// first) and command line flags, in increasing order of precedence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "v0.1.0" // injected with -ldflags at build time

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "accountsd",
		Short:         "OAuth2 / OpenID Connect authorization server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file path")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write logs to this file with rotation instead of stderr")
	bindFlag(v, "config", flags.Lookup("config"))
	bindFlag(v, "log.level", flags.Lookup("log-level"))
	bindFlag(v, "log.file", flags.Lookup("log-file"))

	root.AddCommand(
		newServeCommand(v),
		newClientCommand(v),
		newKeygenCommand(),
	)
	return root
}
