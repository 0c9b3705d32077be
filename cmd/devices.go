package cmd

import (
	"elmdiag/internal/cmd/devices"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List serial devices and paired Bluetooth adapters",
	Args:  cobra.NoArgs,
	RunE:  devices.Run,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
