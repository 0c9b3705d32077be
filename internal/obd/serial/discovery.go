package serial

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"elmdiag/internal/models"

	"go.bug.st/serial/enumerator"
	"golang.org/x/sync/errgroup"
)

// Discoverer lists serial devices. Bluetooth RFCOMM bindings count as paired devices.
type Discoverer struct {
	// listPorts and globBindings are swapped in tests.
	listPorts    func() ([]*enumerator.PortDetails, error)
	globBindings func() ([]string, error)
}

func NewDiscoverer() *Discoverer {
	return &Discoverer{
		listPorts: enumerator.GetDetailedPortsList,
		globBindings: func() ([]string, error) {
			if runtime.GOOS != "linux" {
				return nil, nil
			}
			return filepath.Glob("/dev/rfcomm*")
		},
	}
}

// Discover returns every serial device found and the subset that looks like a paired
// Bluetooth adapter.
func (d *Discoverer) Discover(ctx context.Context) (discovered, paired []models.DeviceDescriptor, err error) {
	var (
		ports    []*enumerator.PortDetails
		bindings []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ports, err = d.listPorts()
		return err
	})
	g.Go(func() error {
		var err error
		bindings, err = d.globBindings()
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	for _, p := range ports {
		dev := models.DeviceDescriptor{DisplayName: displayName(p), Address: p.Name}
		if models.ContainsDevice(discovered, dev) {
			continue
		}
		discovered = append(discovered, dev)
		if isBluetooth(p) {
			paired = append(paired, dev)
		}
	}
	for _, b := range bindings {
		dev := models.DeviceDescriptor{DisplayName: filepath.Base(b), Address: b}
		if !models.ContainsDevice(discovered, dev) {
			discovered = append(discovered, dev)
		}
		if !models.ContainsDevice(paired, dev) {
			paired = append(paired, dev)
		}
	}

	sortDevices(discovered)
	sortDevices(paired)
	return discovered, paired, nil
}

func displayName(p *enumerator.PortDetails) string {
	if p.Product != "" {
		return p.Product
	}
	return filepath.Base(p.Name)
}

func isBluetooth(p *enumerator.PortDetails) bool {
	name := strings.ToLower(p.Name)
	product := strings.ToLower(p.Product)
	return strings.Contains(name, "rfcomm") ||
		strings.Contains(product, "bluetooth") ||
		(strings.HasPrefix(name, "/dev/tty.") && !strings.Contains(name, "incoming-port") && !p.IsUSB)
}

func sortDevices(list []models.DeviceDescriptor) {
	sort.Slice(list, func(i, j int) bool { return list[i].Address < list[j].Address })
}
