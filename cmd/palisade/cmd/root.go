package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "palisade",
	Short: "Palisade is a certificate authority platform",
	Long: `A certificate authority platform with CMP confirmation exchange,
partitioned revocation lists and hierarchical admin access control.
Complete documentation is available at https://github.com/jmcleod/palisade`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
}
