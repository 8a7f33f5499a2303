package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/netstub/netstub/internal/errx"
	"github.com/netstub/netstub/pkg/api"
	"github.com/netstub/netstub/pkg/proxy"
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Print the interception CA certificate",
	Long: `Print the PEM certificate of the CA that signs intercepted HTTPS traffic,
creating the CA first when the directory holds none. Browsers under test
must trust this certificate.`,
	Args: cobra.NoArgs,
	RunE: runCA,
}

func init() {
	caCmd.Flags().String("ca-dir", api.DefaultCADir(), "Directory holding the interception CA")
	caCmd.Flags().Bool("path", false, "Print the certificate path instead of its contents")

	viper.BindPFlag("ca.ca-dir", caCmd.Flags().Lookup("ca-dir"))
	viper.BindPFlag("ca.path", caCmd.Flags().Lookup("path"))

	rootCmd.AddCommand(caCmd)
}

func runCA(cmd *cobra.Command, args []string) error {
	pool, err := proxy.NewCAPool(viper.GetString("ca.ca-dir"))
	if err != nil {
		return errx.Wrap(ErrInitCA, err)
	}
	if viper.GetBool("ca.path") {
		fmt.Fprintln(cmd.OutOrStdout(), pool.CACertPath())
		return nil
	}
	_, err = cmd.OutOrStdout().Write(pool.CACertPEM())
	return err
}
