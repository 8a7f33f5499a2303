package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netstub/netstub/internal/errx"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "netstub",
	Short: "HTTP interception proxy for browser tests",
	Long: `netstub is a man-in-the-middle proxy whose traffic is stubbed, rewritten
or observed by a test driver connected over a websocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
}

// initConfig reads the optional config file and enables NETSTUB_* env
// overrides, e.g. NETSTUB_SERVE_PROXY_ADDR.
func initConfig() error {
	viper.SetEnvPrefix("NETSTUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return errx.Wrap(ErrReadConfig, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
