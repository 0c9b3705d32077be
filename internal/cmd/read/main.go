package read

import (
	"fmt"

	"elmdiag/internal/cmd/app"
	"elmdiag/internal/obd"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func Run(cmd *cobra.Command, args []string) error {
	a := app.New()
	defer a.Close()

	if list, _ := cmd.Flags().GetBool("list"); list {
		for _, d := range a.Registry.Decoders() {
			m := d.Metadata()
			fmt.Printf("  %s  %-14s %s\n", color.CyanString(m.Key().String()), m.Short, m.Name)
		}
		return nil
	}
	if len(args) == 0 {
		return fmt.Errorf("no parameters given, see --list")
	}

	decoders := make([]obd.Decoder, 0, len(args))
	for _, name := range args {
		d, ok := a.Registry.Find(name)
		if !ok {
			return fmt.Errorf("unknown parameter %q", name)
		}
		decoders = append(decoders, d)
	}

	ctx := cmd.Context()
	if err := a.Connect(ctx); err != nil {
		return err
	}
	for _, d := range decoders {
		r, err := a.Manager.Execute(ctx, obd.Request(d)).Get()
		if err != nil {
			fmt.Printf("%-36s %s\n", d.Metadata().Name, color.RedString(err.Error()))
			continue
		}
		fmt.Printf("%-36s %s\n", r.Name, color.GreenString(r.Display()))
	}
	return nil
}
