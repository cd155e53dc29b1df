// Package cli implements the hetpaxos command-line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relab/hetpaxos/logging"
	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "hetpaxos",
		Short: "A heterogeneous consensus node.",
		Long: `hetpaxos runs a single node of a heterogeneous consensus deployment.

Each node is configured with a private key, the addresses and public keys of
all acceptors, and per-learner quorum systems with pairwise safety sets.
The configuration is certified for safety at startup; a node with an unsafe
configuration refuses to run.

Use 'hetpaxos run' to start a node and 'hetpaxos keygen' to generate keys.`,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hetpaxos.json)")

	rootCmd.PersistentFlags().String("log-level", "info", "sets the log level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")))
	rootCmd.PersistentFlags().StringSlice("log-pkgs", []string{}, "set the log level on a per-package basis.")
	cobra.CheckErr(viper.BindPFlag("log-pkgs", rootCmd.PersistentFlags().Lookup("log-pkgs")))
}

// configFile returns the node configuration path, falling back to the default
// location in the home directory.
func configFile() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hetpaxos.json"), nil
}

// initConfig reads in ENV variables and sets up logging.
func initConfig() {
	viper.SetEnvPrefix("hetpaxos")
	viper.AutomaticEnv() // read in environment variables that match

	logging.SetLogLevel(viper.GetString("log-level"))

	packageLevels := viper.GetStringSlice("log-pkgs")

	for _, packageLevel := range packageLevels {
		parts := strings.Split(packageLevel, ":")
		if len(parts) != 2 {
			fmt.Println("log-pkgs flag must be a comma-separated list of package:level strings")
			os.Exit(1)
		}
		logging.SetPackageLogLevel(parts[0], parts[1])
	}
}
