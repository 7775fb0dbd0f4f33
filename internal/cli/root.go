package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mev-pipeline",
	Short: "Solana MEV opportunity execution pipeline",
	Long: `mev-pipeline watches the Solana transaction stream, classifies candidate
MEV opportunities, simulates them under multiple market scenarios, and
submits tip-carrying bundles for the ones that survive confidence scoring
and risk admission.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")
}
