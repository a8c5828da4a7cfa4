package cmd

import (
	"os"
	"strings"

	"github.com/Iron-Ham/appharness/internal/config"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "appharness",
	Short: "End-to-end harness for desktop app containers",
	Long: `appharness drives OpenFin and Tauri applications through their automation
driver and runtime, so end-to-end scenarios wait for lifecycle events and
running state instead of sleeping.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/appharness/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("APPHARNESS")
	// Replace dots with underscores for nested keys in env vars
	// e.g., APPHARNESS_RUNTIME_ADAPTER_VERSION for runtime.adapter_version
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger builds the command's logger: text on an interactive terminal,
// JSON otherwise, and JSON files when a log directory is configured.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}

	out := cmd.ErrOrStderr()
	format := logging.FormatJSON
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		format = logging.FormatText
	}
	return logging.New(logging.Options{
		Dir:    cfg.Logging.Dir,
		Level:  cfg.Logging.Level,
		Format: format,
		Output: out,
	})
}
