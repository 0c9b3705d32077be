// Package connection owns the adapter link: device discovery, the connection lifecycle
// and the serialized command queue in front of the dispatcher.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"elmdiag/internal/dispatcher"
	"elmdiag/internal/models"
	"elmdiag/internal/obd"
	"elmdiag/internal/obd/serial"
	"elmdiag/internal/observe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultAdapterTimeout is the ECU response timeout programmed with ATST.
const DefaultAdapterTimeout = 200 * time.Millisecond

var ErrInvalidTransition = errors.New("invalid state transition")

// Opener opens the byte stream to a device.
type Opener interface {
	Open(ctx context.Context, device models.DeviceDescriptor) (io.ReadWriteCloser, error)
}

// Discoverer lists reachable and paired devices.
type Discoverer interface {
	Discover(ctx context.Context) (discovered, paired []models.DeviceDescriptor, err error)
}

type Config struct {
	AdapterTimeout time.Duration
}

// Manager is the single owner of a connection. It is constructed explicitly and handed
// to whatever needs to talk to the vehicle.
type Manager struct {
	opener     Opener
	discoverer Discoverer
	cfg        Config
	logger     *zap.Logger

	state      *observe.Cell[State]
	errs       *observe.Broadcast[error]
	discovered *observe.Cell[[]models.DeviceDescriptor]
	paired     *observe.Cell[[]models.DeviceDescriptor]

	// queue admits one caller at a time to the dispatcher.
	queue chan struct{}

	// lifecycle serializes Discover, Connect and Disconnect.
	lifecycle sync.Mutex

	mu      sync.Mutex
	session *session
	// abort interrupts the Connect or Discover in progress.
	abort context.CancelCauseFunc
}

type session struct {
	device   models.DeviceDescriptor
	rwc      io.ReadWriteCloser
	disp     *dispatcher.Dispatcher
	cancel   context.CancelFunc
	done     chan struct{}
	protocol string
	// abandoned is set by Disconnect; guarded by Manager.mu.
	abandoned bool
}

func NewManager(opener Opener, discoverer Discoverer, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = DefaultAdapterTimeout
	}
	return &Manager{
		opener:     opener,
		discoverer: discoverer,
		cfg:        cfg,
		logger:     logger,
		state:      observe.NewCell(Disconnected),
		errs:       observe.NewBroadcast[error](8),
		discovered: observe.NewCell[[]models.DeviceDescriptor](nil),
		paired:     observe.NewCell[[]models.DeviceDescriptor](nil),
		queue:      make(chan struct{}, 1),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state.Get()
}

// SubscribeState delivers the current state immediately and then every change.
func (m *Manager) SubscribeState() (<-chan State, func()) {
	return m.state.Subscribe()
}

// SubscribeErrors delivers connection errors emitted after the call. Earlier errors are
// not replayed.
func (m *Manager) SubscribeErrors() (<-chan error, func()) {
	return m.errs.Subscribe()
}

func (m *Manager) DiscoveredDevices() []models.DeviceDescriptor {
	return m.discovered.Get()
}

func (m *Manager) PairedDevices() []models.DeviceDescriptor {
	return m.paired.Get()
}

func (m *Manager) SubscribeDiscovered() (<-chan []models.DeviceDescriptor, func()) {
	return m.discovered.Subscribe()
}

func (m *Manager) SubscribePaired() (<-chan []models.DeviceDescriptor, func()) {
	return m.paired.Subscribe()
}

// Device returns the device of the current session.
func (m *Manager) Device() (models.DeviceDescriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return models.DeviceDescriptor{}, false
	}
	return m.session.device, true
}

// Protocol returns the vehicle protocol reported by the adapter, if known.
func (m *Manager) Protocol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.protocol
}

// Discover scans for devices and publishes the discovered and paired lists. A failed scan
// is reported as an error event and leaves the manager Disconnected.
func (m *Manager) Discover(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	ctx, done := m.interruptible(ctx)
	defer done()

	m.resetFailed()
	if err := m.transition(Discovering); err != nil {
		return err
	}
	discovered, paired, err := m.discoverer.Discover(ctx)
	if err != nil {
		if m.interrupted(ctx, nil) {
			m.force(Disconnected)
			return fmt.Errorf("discover devices: %w", obd.ErrDisconnected)
		}
		err = fmt.Errorf("discover devices: %w", err)
		m.emit(err)
		m.force(Disconnected)
		return err
	}
	m.discovered.Set(discovered)
	m.paired.Set(paired)
	m.logger.Info("discovery finished", zap.Int("discovered", len(discovered)), zap.Int("paired", len(paired)))
	return m.transition(Disconnected)
}

// Connect opens device, runs the adapter setup sequence and enters Connected. A Failed
// manager is reset to Disconnected first. Any failure leaves the manager Failed with the
// transport released. A Disconnect during setup ends it with obd.ErrDisconnected and
// leaves the manager Disconnected.
func (m *Manager) Connect(ctx context.Context, device models.DeviceDescriptor) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	ctx, done := m.interruptible(ctx)
	defer done()

	m.resetFailed()
	if err := m.transition(Connecting); err != nil {
		return err
	}
	m.logger.Info("connecting", zap.Stringer("device", device))

	rwc, err := m.opener.Open(ctx, device)
	if err != nil {
		return m.setupFailed(ctx, nil, device, fmt.Errorf("open %s: %w", device, err))
	}
	if m.interrupted(ctx, nil) {
		rwc.Close()
		return m.abandon(device)
	}
	s := m.start(device, rwc)

	if err := m.transition(Initializing); err != nil {
		return m.setupFailed(ctx, s, device, err)
	}
	for _, cmd := range obd.InitSequence(m.cfg.AdapterTimeout) {
		if err := m.run(ctx, s, cmd).Err(); err != nil {
			return m.setupFailed(ctx, s, device, fmt.Errorf("initialize adapter: %w", err))
		}
	}
	m.detectProtocol(ctx, s)

	if m.interrupted(ctx, s) {
		return m.abandon(device)
	}
	if err := m.transition(Connected); err != nil {
		return m.setupFailed(ctx, s, device, err)
	}
	m.logger.Info("connected", zap.Stringer("device", device), zap.String("protocol", s.protocol))
	return nil
}

// Disconnect resolves any in-flight command with obd.ErrDisconnected, releases the
// transport and enters Disconnected. A Connect or Discover in progress is interrupted;
// Disconnect returns once it has unwound.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	s, abort := m.session, m.abort
	m.session = nil
	if s != nil {
		s.abandoned = true
	}
	m.mu.Unlock()

	if s != nil {
		s.stop(obd.ErrDisconnected)
	}
	if abort != nil {
		abort(obd.ErrDisconnected)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if s != nil {
		<-s.done
		m.logger.Info("transport released", zap.Stringer("device", s.device))
	}
	m.teardown(obd.ErrDisconnected)
	m.force(Disconnected)
}

// Execute runs cmd once the previous caller's command has resolved. Outside Connected it
// fails with obd.ErrNotConnected.
func (m *Manager) Execute(ctx context.Context, cmd obd.Command) dispatcher.Result {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil || m.State() != Connected {
		return obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", cmd, obd.ErrNotConnected))
	}
	return m.run(ctx, s, cmd)
}

// Voltage reads the supply voltage measured by the adapter.
func (m *Manager) Voltage(ctx context.Context) obd.ValueResult[float64] {
	r := m.Execute(ctx, obd.Directive(obd.CommandReadVoltage))
	reading, err := r.Get()
	if err != nil {
		return obd.Failure[float64](err)
	}
	v, err := obd.ParseVoltage(reading.Value)
	if err != nil {
		return obd.Failure[float64](err)
	}
	return obd.Success(v)
}

func (m *Manager) run(ctx context.Context, s *session, cmd obd.Command) dispatcher.Result {
	select {
	case m.queue <- struct{}{}:
	case <-ctx.Done():
		return obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", cmd, ctx.Err()))
	}
	defer func() { <-m.queue }()
	return s.disp.Execute(ctx, cmd)
}

// start wires a dispatcher to rwc and supervises the reader.
func (m *Manager) start(device models.DeviceDescriptor, rwc io.ReadWriteCloser) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		device: device,
		rwc:    rwc,
		disp:   dispatcher.New(rwc, m.logger.Named("dispatcher")),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.disp.OnTransportError = func(err error) {
		m.transportFailed(s, err)
	}
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serial.ReadFrames(rwc, s.disp.Deliver)
	})
	g.Go(func() error {
		<-gctx.Done()
		return rwc.Close()
	})
	go func() {
		defer close(s.done)
		err := g.Wait()
		m.transportFailed(s, fmt.Errorf("%w: read: %v", obd.ErrTransport, err))
	}()
	return s
}

// transportFailed moves a live session to Failed. It is a no-op for a session that was
// already torn down.
func (m *Manager) transportFailed(s *session, err error) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	m.logger.Error("transport failure", zap.Stringer("device", s.device), zap.Error(err))
	s.stop(err)
	m.force(Failed)
	m.emit(err)
}

// teardown stops the current session, resolving its pending command with err, and waits
// for its reader to exit.
func (m *Manager) teardown(err error) {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.stop(err)
	<-s.done
	m.logger.Info("transport released", zap.Stringer("device", s.device))
}

// interruptible derives the context of a lifecycle operation that Disconnect can cancel.
func (m *Manager) interruptible(ctx context.Context) (context.Context, func()) {
	ctx, abort := context.WithCancelCause(ctx)
	m.mu.Lock()
	m.abort = abort
	m.mu.Unlock()
	return ctx, func() {
		m.mu.Lock()
		m.abort = nil
		m.mu.Unlock()
		abort(nil)
	}
}

// interrupted reports whether Disconnect cut the current operation short.
func (m *Manager) interrupted(ctx context.Context, s *session) bool {
	if errors.Is(context.Cause(ctx), obd.ErrDisconnected) {
		return true
	}
	if s == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.abandoned
}

func (m *Manager) setupFailed(ctx context.Context, s *session, device models.DeviceDescriptor, err error) error {
	if m.interrupted(ctx, s) {
		return m.abandon(device)
	}
	return m.fail(err)
}

// abandon releases whatever Connect had set up after a Disconnect.
func (m *Manager) abandon(device models.DeviceDescriptor) error {
	m.teardown(obd.ErrDisconnected)
	m.force(Disconnected)
	m.logger.Info("connect interrupted", zap.Stringer("device", device))
	return fmt.Errorf("connect %s: %w", device, obd.ErrDisconnected)
}

func (m *Manager) fail(err error) error {
	m.teardown(err)
	m.logger.Error("connection failed", zap.Error(err))
	if m.State() != Failed {
		m.force(Failed)
	}
	m.emit(err)
	return err
}

// resetFailed lets an explicit Connect or Discover restart from Failed.
func (m *Manager) resetFailed() {
	if m.State() == Failed {
		m.teardown(obd.ErrDisconnected)
		m.force(Disconnected)
	}
}

func (m *Manager) detectProtocol(ctx context.Context, s *session) {
	r := m.run(ctx, s, obd.Directive(obd.CommandProtocolNum))
	reading, err := r.Get()
	if err != nil {
		m.logger.Warn("failed to read protocol", zap.Error(err))
		return
	}
	name := obd.ProtocolName(reading.Value)
	m.mu.Lock()
	s.protocol = name
	m.mu.Unlock()
	m.logger.Info("protocol detected", zap.String("number", reading.Value), zap.String("protocol", name))
}

func (m *Manager) transition(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.state.Get()
	if !cur.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	m.state.Set(next)
	m.logger.Debug("state changed", zap.Stringer("from", cur), zap.Stringer("to", next))
	return nil
}

// force enters Disconnected or Failed from wherever the manager is.
func (m *Manager) force(next State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.state.Get()
	if cur == next {
		return
	}
	m.state.Set(next)
	m.logger.Debug("state changed", zap.Stringer("from", cur), zap.Stringer("to", next))
}

func (m *Manager) emit(err error) {
	if n := m.errs.Emit(err); n == 0 {
		m.logger.Debug("connection error with no subscribers", zap.Error(err))
	}
}

func (s *session) stop(err error) {
	s.disp.Close(err)
	s.cancel()
}
