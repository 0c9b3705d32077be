package devices

import (
	"fmt"

	"elmdiag/internal/cmd/app"
	"elmdiag/internal/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Run(cmd *cobra.Command, args []string) error {
	a := app.New()
	defer a.Close()

	if err := a.Manager.Discover(cmd.Context()); err != nil {
		return err
	}
	printDevices("Paired adapters:", a.Manager.PairedDevices())
	fmt.Println()
	printDevices("All serial devices:", a.Manager.DiscoveredDevices())
	return nil
}

func printDevices(title string, list []models.DeviceDescriptor) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Println(bold(title))
	if len(list) == 0 {
		fmt.Println("  none found")
		return
	}
	for _, d := range list {
		fmt.Printf("  %-24s %s\n", color.CyanString(d.Address), d.DisplayName)
	}
}
