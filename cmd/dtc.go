package cmd

import (
	"elmdiag/internal/cmd/dtc"

	"github.com/spf13/cobra"
)

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read stored trouble codes",
	Long:  `Connect to the vehicle, print the stored trouble codes and optionally the pending ones, then clear them if asked.`,
	Args:  cobra.NoArgs,
	RunE:  dtc.Run,
}

func init() {
	dtcCmd.Flags().Bool("clear", false, "Clear stored trouble codes after reading them")
	dtcCmd.Flags().Bool("pending", false, "Also read pending trouble codes")
	rootCmd.AddCommand(dtcCmd)
}
