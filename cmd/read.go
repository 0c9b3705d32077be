package cmd

import (
	"elmdiag/internal/cmd/read"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:     "read <pid|name>...",
	Short:   "Read parameters once",
	Example: "  elmdiag read rpm coolant 010D",
	RunE:    read.Run,
}

func init() {
	readCmd.Flags().Bool("list", false, "List known parameters")
	rootCmd.AddCommand(readCmd)
}
