package root

import (
	"context"
	"errors"
	"fmt"

	"elmdiag/internal/cmd/app"
	"elmdiag/internal/displayer"
	"elmdiag/internal/models"
	"elmdiag/internal/monitor"
	"elmdiag/internal/obd"
	"elmdiag/pkg/log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
)

func Run(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a := app.New()
	defer a.Close()

	if err := a.Connect(ctx); err != nil {
		log.Fatal("failed to connect to adapter", zap.Error(err))
	}
	a.StartPublisher()

	poller := monitor.New(a.Manager, obd.DashboardDecoders(), viper.GetDuration("poll-interval"), log.Logger().Named("monitor"))

	if viper.GetBool("no-tui") {
		printSummary(ctx, a, poller)
		if a.Publisher == nil {
			return
		}
		log.Info("publishing readings, interrupt to stop")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		return a.Forward(gctx, poller)
	})
	if !viper.GetBool("no-tui") {
		g.Go(func() error {
			d := displayer.New(a.Manager, poller, a.Codes)
			if err := d.Run(gctx); err != nil {
				return err
			}
			return context.Canceled
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Printf("error: %v\n", err)
	}
}

func printSummary(ctx context.Context, a *app.App, poller *monitor.Poller) {
	device, _ := a.Manager.Device()
	fmt.Printf("Adapter:  %s\n", device)
	fmt.Printf("Protocol: %s\n", a.Manager.Protocol())
	if v, err := a.Manager.Voltage(ctx).Get(); err == nil {
		fmt.Printf("Battery:  %.1f V\n", v)
	}

	fmt.Println()
	fmt.Println("Current readings:")
	for _, r := range poller.PollOnce(ctx) {
		printReading(r)
	}

	fmt.Println()
	res := a.Codes.Scan(ctx)
	codes, err := res.Get()
	if err != nil {
		log.Error("failed to get error codes", zap.Error(err))
		return
	}
	PrintCodes("Current DTC Error Codes:", codes)
}

func printReading(r models.DecodedReading) {
	if r.IsError {
		fmt.Printf("  %-36s %s\n", r.Name, red("%s", r.Value))
		return
	}
	fmt.Printf("  %-36s %s\n", r.Name, green("%s", r.Display()))
}

// PrintCodes lists trouble codes under title.
func PrintCodes(title string, codes []models.TroubleCode) {
	fmt.Println(title)
	if len(codes) == 0 {
		fmt.Println(green("No error codes."))
		return
	}
	for _, code := range codes {
		fmt.Printf("- %s: %s\n", yellow("%s", code.Code), code.Description)
	}
}
