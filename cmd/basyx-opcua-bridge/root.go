package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	exitOK            = 0
	exitConfigInvalid = 1
	exitOpcUaAuth     = 2
	exitAasAuth       = 3
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "basyx-opcua-bridge",
	Short: "Bidirectional bridge between an OPC UA server and an AAS repository",
	Long: `basyx-opcua-bridge synchronizes values between an OPC UA address
space and an Asset Administration Shell repository, per the mapping
rules in its configuration file.

Examples:
  basyx-opcua-bridge serve --config bridge.yaml
  basyx-opcua-bridge version`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the bridge YAML configuration file")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("BRIDGE")
	viper.AutomaticEnv()
}

// run executes the root command and translates a failure into the
// process exit code. Any error surfaced through cobra that isn't
// one of the typed errors classifyExit (exit.go) recognises is an unexpected fatal
// error and maps to exitConfigInvalid, failing closed on anything not
// explicitly classified.
func run() int {
	if err := rootCmd.Execute(); err != nil {
		return classifyExit(err)
	}
	return exitOK
}
