package dtc

import (
	"fmt"

	"elmdiag/internal/cmd/app"
	"elmdiag/internal/cmd/root"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := app.New()
	defer a.Close()

	if err := a.Connect(ctx); err != nil {
		return err
	}

	codes, err := a.Codes.Scan(ctx).Get()
	if err != nil {
		return err
	}
	root.PrintCodes("Stored trouble codes:", codes)

	if pending, _ := cmd.Flags().GetBool("pending"); pending {
		codes, err := a.Codes.Pending(ctx).Get()
		if err != nil {
			return err
		}
		fmt.Println()
		root.PrintCodes("Pending trouble codes:", codes)
	}

	if clear, _ := cmd.Flags().GetBool("clear"); clear {
		if _, err := a.Codes.Clear(ctx).Get(); err != nil {
			return err
		}
		fmt.Println()
		color.Green("Trouble codes cleared.")
	}
	return nil
}
