// Package app builds the connection, readers and publisher from the viper configuration.
package app

import (
	"context"
	"path/filepath"
	"time"

	"elmdiag/internal/connection"
	"elmdiag/internal/models"
	"elmdiag/internal/monitor"
	"elmdiag/internal/obd"
	"elmdiag/internal/obd/mock"
	"elmdiag/internal/obd/serial"
	"elmdiag/internal/publish"
	"elmdiag/internal/troublecode"
	"elmdiag/pkg/log"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// App owns everything a command needs.
type App struct {
	Manager   *connection.Manager
	Codes     *troublecode.Reader
	Registry  *obd.Registry
	Publisher *publish.Publisher

	sim     *mock.Adapter
	stopSim context.CancelFunc
}

func New() *App {
	logger := log.Logger()
	a := &App{Registry: obd.DefaultRegistry()}

	var opener connection.Opener
	if viper.GetBool("mock") {
		ctx, cancel := context.WithCancel(context.Background())
		a.sim = mock.New()
		a.stopSim = cancel
		go a.sim.Simulate(ctx, 500*time.Millisecond)
		opener = a.sim
	} else {
		opener = serial.NewOpener(serial.Config{Baud: viper.GetInt("baud")})
	}

	a.Manager = connection.NewManager(
		opener,
		serial.NewDiscoverer(),
		connection.Config{AdapterTimeout: viper.GetDuration("adapter-timeout")},
		logger.Named("connection"),
	)
	a.Codes = troublecode.NewReader(a.Manager, logger.Named("troublecode"))

	if broker := viper.GetString("mqtt-broker"); broker != "" {
		a.Publisher = publish.NewPublisher(publish.Config{
			Broker:   broker,
			Topic:    viper.GetString("mqtt-topic"),
			ClientID: viper.GetString("mqtt-client-id"),
		}, logger.Named("publish"))
	}
	return a
}

// Device is the configured adapter.
func (a *App) Device() models.DeviceDescriptor {
	if a.sim != nil {
		return models.DeviceDescriptor{DisplayName: "simulated adapter", Address: "mock"}
	}
	port := viper.GetString("port")
	if port == "" {
		port = serial.DefaultDevice()
	}
	return models.DeviceDescriptor{DisplayName: filepath.Base(port), Address: port}
}

func (a *App) Connect(ctx context.Context) error {
	return a.Manager.Connect(ctx, a.Device())
}

// StartPublisher connects to the broker when one is configured. A broker that cannot be
// reached is logged and publishing is disabled.
func (a *App) StartPublisher() {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.Start(); err != nil {
		log.Warn("mqtt publishing disabled", zap.Error(err))
		a.Publisher = nil
	}
}

// Forward publishes poller readings and connection state until ctx ends.
func (a *App) Forward(ctx context.Context, poller *monitor.Poller) error {
	if a.Publisher == nil {
		<-ctx.Done()
		return nil
	}
	readings, stopReadings := poller.Subscribe()
	defer stopReadings()
	states, stopStates := a.Manager.SubscribeState()
	defer stopStates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-readings:
			a.Publisher.PublishReading(r)
		case s := <-states:
			device, _ := a.Manager.Device()
			a.Publisher.PublishState(s.String(), device)
			if s == connection.Connected {
				a.Publisher.PublishTroubleCodes(a.Codes.Cached())
			}
		}
	}
}

func (a *App) Close() {
	a.Manager.Disconnect()
	if a.Publisher != nil {
		a.Publisher.Stop()
	}
	if a.stopSim != nil {
		a.stopSim()
	}
}
