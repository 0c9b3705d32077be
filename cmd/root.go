package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"elmdiag/internal/cmd/root"
	"elmdiag/internal/connection"
	"elmdiag/internal/monitor"
	"elmdiag/internal/obd/serial"
	"elmdiag/internal/publish"
	"elmdiag/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "elmdiag",
	Short: "ELM327 OBD-II diagnostics",
	Long:  `Talks to a vehicle through an ELM327 adapter, shows live readings and reads or clears trouble codes.`,
	Run:   root.Run,
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default $HOME/.elmdiag.yaml)")
	flags.Bool("debug", false, "Enable debug mode")
	flags.Bool("no-tui", false, "Print a summary instead of running the dashboard")
	flags.Bool("mock", false, "Use the simulated adapter")
	flags.Int("baud", serial.DefaultBaud, "Baud rate for serial connection")
	flags.StringP("port", "p", "", "Serial device of the adapter (default depends on platform)")
	flags.Duration("poll-interval", monitor.DefaultInterval, "Interval between dashboard polls")
	flags.Duration("adapter-timeout", connection.DefaultAdapterTimeout, "ECU response timeout programmed into the adapter")
	flags.String("mqtt-broker", "", "Publish readings to this MQTT broker, e.g. tcp://localhost:1883")
	flags.String("mqtt-topic", publish.DefaultTopic, "Root MQTT topic")
	flags.String("mqtt-client-id", publish.DefaultClientID, "MQTT client id")

	for _, name := range []string{"debug", "no-tui", "mock", "baud", "port", "poll-interval", "adapter-timeout", "mqtt-broker", "mqtt-topic", "mqtt-client-id"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	// Set default values
	viper.SetDefault("debug", false)
	viper.SetDefault("no-tui", false)
	viper.SetDefault("mock", false)
	viper.SetDefault("baud", serial.DefaultBaud)
	viper.SetDefault("poll-interval", monitor.DefaultInterval)
	viper.SetDefault("adapter-timeout", connection.DefaultAdapterTimeout)
	viper.SetDefault("mqtt-topic", publish.DefaultTopic)
	viper.SetDefault("mqtt-client-id", publish.DefaultClientID)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".elmdiag")
	}
	viper.SetEnvPrefix("ELMDIAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "error reading config:", err)
		os.Exit(1)
	}
}

func initLogger() {
	log.InitLogger(viper.GetBool("debug"))
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		// Failsafe if shutdown hangs
		<-time.After(30 * time.Second)
		log.Fatal("took too long to shut down, forcefully exiting", zap.Error(ctx.Err()))
	}()

	err := rootCmd.ExecuteContext(ctx)
	log.Sync()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
