package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netstub/netstub/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the interception proxy and the driver endpoint",
	Example: `  netstub serve
  netstub serve --proxy-addr 127.0.0.1:9090 --codec cbor --event-log events.jsonl
  NETSTUB_SERVE_LOG_LEVEL=debug netstub serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	def := api.DefaultConfig()
	serveCmd.Flags().String("proxy-addr", def.ProxyAddr, "Address of the HTTP(S) proxy")
	serveCmd.Flags().String("driver-addr", def.DriverAddr, "Address of the driver websocket endpoint")
	serveCmd.Flags().String("driver-path", def.DriverPath, "HTTP path of the driver websocket endpoint")
	serveCmd.Flags().String("metrics-addr", "", "Address serving Prometheus metrics at /metrics (empty disables)")
	serveCmd.Flags().String("ca-dir", def.CADir, "Directory holding the interception CA")
	serveCmd.Flags().String("codec", def.Codec, "Driver frame codec (json or cbor)")
	serveCmd.Flags().String("log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	serveCmd.Flags().String("event-log", "", "Append structured interception events to this JSON-L file")
	serveCmd.Flags().String("run-id", "", "Run identifier stamped on events (default: random)")

	viper.BindPFlag("serve.proxy-addr", serveCmd.Flags().Lookup("proxy-addr"))
	viper.BindPFlag("serve.driver-addr", serveCmd.Flags().Lookup("driver-addr"))
	viper.BindPFlag("serve.driver-path", serveCmd.Flags().Lookup("driver-path"))
	viper.BindPFlag("serve.metrics-addr", serveCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("serve.ca-dir", serveCmd.Flags().Lookup("ca-dir"))
	viper.BindPFlag("serve.codec", serveCmd.Flags().Lookup("codec"))
	viper.BindPFlag("serve.log-level", serveCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("serve.event-log", serveCmd.Flags().Lookup("event-log"))
	viper.BindPFlag("serve.run-id", serveCmd.Flags().Lookup("run-id"))

	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig resolves the serve configuration from flags, env and the
// config file, in viper's precedence order.
func loadServeConfig() api.Config {
	cfg := api.Config{
		ProxyAddr:   viper.GetString("serve.proxy-addr"),
		DriverAddr:  viper.GetString("serve.driver-addr"),
		DriverPath:  viper.GetString("serve.driver-path"),
		MetricsAddr: viper.GetString("serve.metrics-addr"),
		CADir:       viper.GetString("serve.ca-dir"),
		Codec:       viper.GetString("serve.codec"),
		LogLevel:    viper.GetString("serve.log-level"),
		EventLog:    viper.GetString("serve.event-log"),
		RunID:       viper.GetString("serve.run-id"),
	}
	cfg.ApplyDefaults()
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadServeConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := contextWithSignal(cmd.Context())
	defer cancel()
	return srv.Run(ctx)
}
