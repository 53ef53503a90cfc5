package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kappakonnect/edgeguard/internal/config"
)

var (
	cfgFile string
	v       = config.NewViper()

	rootCmd = &cobra.Command{
		Use:           "edgeguard",
		Short:         "Edge request-inspection firewall with per-client rate limiting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("rules-file", "", "YAML file with extra threat patterns")
	v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("rules_file", rootCmd.PersistentFlags().Lookup("rules-file"))

	cobra.OnInitialize(func() {
		if cfgFile == "" {
			return
		}
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "error: read config:", err)
			os.Exit(1)
		}
	})
}
