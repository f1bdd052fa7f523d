package main

import (
	"fmt"
	"os"

	"github.com/danmuck/wamctl/internal/logging"
	"github.com/danmuck/wamctl/internal/paths"
	"github.com/spf13/cobra"
)

var (
	configPath string
	runtimeDir string
)

var rootCmd = &cobra.Command{
	Use:   "wamctl",
	Short: "Web application manager host and client",
	Long: `wamctl elects one host process per runtime directory and lets any other
process ask it to launch, activate, deactivate or forget web applications.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a wamctl TOML config")
	rootCmd.PersistentFlags().StringVar(&runtimeDir, "runtime-dir", "", "runtime directory (default $XDG_RUNTIME_DIR or /tmp)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wamctl: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig applies defaults, environment, config file and flags, in
// that order.
func resolveConfig() (cliConfig, error) {
	env, err := paths.LoadEnv()
	if err != nil {
		return cliConfig{}, err
	}
	cfg, err := loadConfig(configPath, env)
	if err != nil {
		return cliConfig{}, err
	}
	if runtimeDir != "" {
		cfg.Host.RuntimeDir = runtimeDir
	}
	return cfg, nil
}
