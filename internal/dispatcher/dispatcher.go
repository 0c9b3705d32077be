// Package dispatcher correlates adapter replies with the single command awaiting one.
//
// A Dispatcher is Idle or Awaiting exactly one command. Submit moves it to Awaiting and
// arms the command's deadline; a delivered frame, the deadline, a cancellation or a
// disconnect each resolve the command and return the Dispatcher to Idle. Every command
// is resolved exactly once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"elmdiag/internal/models"
	"elmdiag/internal/obd"

	"go.uber.org/zap"
)

// Result is the terminal outcome of one command. A failed Result carries no reading;
// ErrorReading renders one with IsError set for display.
type Result = obd.ValueResult[models.DecodedReading]

// Dispatcher writes commands to w and resolves them from frames passed to Deliver.
type Dispatcher struct {
	w      io.Writer
	logger *zap.Logger
	now    func() time.Time

	// OnTransportError is called, outside any lock, when a write fails.
	OnTransportError func(error)

	mu      sync.Mutex
	pending *Pending
	closed  error
}

// Pending is a submitted command. Its result is available once Done is closed.
type Pending struct {
	cmd      obd.Command
	deadline time.Time
	timer    *time.Timer
	done     chan struct{}
	once     sync.Once
	result   Result
}

func New(w io.Writer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		w:      w,
		logger: logger,
		now:    time.Now,
	}
}

// Submit sends cmd. It fails with obd.ErrBusy while another command awaits its reply and
// with obd.ErrClosed after Close.
func (d *Dispatcher) Submit(cmd obd.Command) (*Pending, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = obd.DefaultTimeout
	}

	d.mu.Lock()
	if d.closed != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("submit %s: %w: %w", cmd, obd.ErrClosed, d.closed)
	}
	if d.pending != nil {
		busy := d.pending.cmd
		d.mu.Unlock()
		return nil, fmt.Errorf("submit %s while awaiting %s: %w", cmd, busy, obd.ErrBusy)
	}
	p := &Pending{
		cmd:      cmd,
		deadline: d.now().Add(timeout),
		done:     make(chan struct{}),
	}
	d.pending = p
	p.timer = time.AfterFunc(timeout, func() {
		d.expire(p, timeout)
	})
	d.mu.Unlock()

	d.logger.Debug("write", zap.String("command", cmd.Body), zap.Duration("timeout", timeout))
	if _, err := d.w.Write(cmd.Encode()); err != nil {
		err = fmt.Errorf("%w: write %s: %v", obd.ErrTransport, cmd, err)
		d.resolveIfPending(p, obd.Failure[models.DecodedReading](err))
		if d.OnTransportError != nil {
			d.OnTransportError(err)
		}
	}
	return p, nil
}

// Execute submits cmd and waits for its result.
func (d *Dispatcher) Execute(ctx context.Context, cmd obd.Command) Result {
	p, err := d.Submit(cmd)
	if err != nil {
		return obd.Failure[models.DecodedReading](err)
	}
	return d.Wait(ctx, p)
}

// Wait blocks until p resolves. If ctx ends first, p is resolved with the context error
// and the Dispatcher is freed.
func (d *Dispatcher) Wait(ctx context.Context, p *Pending) Result {
	select {
	case <-p.done:
	case <-ctx.Done():
		d.resolveIfPending(p, obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", p.cmd, ctx.Err())))
		<-p.done
	}
	return p.result
}

// Deliver hands one reply cycle (text up to the prompt) to the awaiting command. Frames
// arriving with nothing awaiting are dropped, as are late replies to an earlier request;
// the awaiting command keeps waiting for its own.
func (d *Dispatcher) Deliver(raw string) {
	d.mu.Lock()
	p := d.pending
	if p == nil {
		d.mu.Unlock()
		d.logger.Debug("dropping unsolicited frame", zap.String("raw", raw))
		return
	}
	if stale(p.cmd, raw) {
		d.mu.Unlock()
		d.logger.Debug("dropping reply to an earlier request", zap.String("command", p.cmd.Body), zap.String("raw", raw))
		return
	}
	d.pending = nil
	d.mu.Unlock()

	d.logger.Debug("read", zap.String("command", p.cmd.Body), zap.String("raw", raw))
	p.resolve(decode(p.cmd, raw, d.now()))
}

// Cancel resolves the awaiting command, if any, with err. The Dispatcher stays usable.
func (d *Dispatcher) Cancel(err error) {
	d.mu.Lock()
	p := d.pending
	d.pending = nil
	d.mu.Unlock()
	if p != nil {
		p.resolve(obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", p.cmd, err)))
	}
}

// Close resolves the awaiting command with err (obd.ErrDisconnected when nil) and
// refuses further submissions.
func (d *Dispatcher) Close(err error) {
	if err == nil {
		err = obd.ErrDisconnected
	}
	d.mu.Lock()
	if d.closed == nil {
		d.closed = err
	}
	d.mu.Unlock()
	d.Cancel(err)
}

// Busy reports whether a command is awaiting its reply.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Dispatcher) expire(p *Pending, timeout time.Duration) {
	if d.resolveIfPending(p, obd.Failure[models.DecodedReading](fmt.Errorf("%s after %s: %w", p.cmd, timeout, obd.ErrTimeout))) {
		d.logger.Warn("command timed out", zap.String("command", p.cmd.Body), zap.Duration("timeout", timeout))
	}
}

// resolveIfPending resolves p only while it is still the awaiting command.
func (d *Dispatcher) resolveIfPending(p *Pending, r Result) bool {
	d.mu.Lock()
	if d.pending != p {
		d.mu.Unlock()
		return false
	}
	d.pending = nil
	d.mu.Unlock()
	p.resolve(r)
	return true
}

func (p *Pending) resolve(r Result) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.result = r
		close(p.done)
	})
}

// Done is closed once the command has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome; only meaningful after Done is closed.
func (p *Pending) Result() Result {
	<-p.done
	return p.result
}

func (p *Pending) Command() obd.Command {
	return p.cmd
}

func (p *Pending) Deadline() time.Time {
	return p.deadline
}

// stale reports a reply that answers some other OBD request than cmd.
func stale(cmd obd.Command, raw string) bool {
	if cmd.IsDirective() || cmd.Mode == 0 {
		return false
	}
	return obd.ForeignReply(obd.SplitFrame(raw, cmd.Body), cmd.Mode, cmd.PID)
}

// ErrorReading is the reading shown in place of a failed command.
func ErrorReading(cmd obd.Command, err error, at time.Time) models.DecodedReading {
	r := models.DecodedReading{
		Name:      cmd.Name(),
		PID:       cmd.PID,
		Mode:      cmd.Mode,
		Value:     err.Error(),
		Timestamp: at,
		IsError:   true,
	}
	if cmd.Decoder != nil {
		r.Unit = cmd.Decoder.Metadata().Unit
	}
	var de *obd.DecodeError
	if errors.As(err, &de) {
		r.RawValue = de.Raw
	}
	return r
}

// decode turns a raw reply into the command's reading.
func decode(cmd obd.Command, raw string, at time.Time) Result {
	reading := models.DecodedReading{
		Name:      cmd.Name(),
		PID:       cmd.PID,
		Mode:      cmd.Mode,
		RawValue:  raw,
		Timestamp: at,
	}
	if cmd.Decoder != nil {
		reading.Unit = cmd.Decoder.Metadata().Unit
	}

	if err := obd.CheckAdapterReply(raw); err != nil {
		return obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", cmd, err))
	}

	if cmd.IsDirective() {
		reading.Value = obd.CleanReply(raw, cmd.Body)
		if reading.Value == "" {
			return obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", cmd, &obd.DecodeError{Raw: raw, Reason: "empty reply"}))
		}
		return obd.Success(reading)
	}

	data := obd.ParseFrame(raw, cmd.Body)
	if len(data) == 0 {
		return obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", cmd, &obd.DecodeError{Raw: raw, Reason: "no data bytes"}))
	}
	if cmd.Decoder == nil {
		reading.Value = strings.Join(data, " ")
		return obd.Success(reading)
	}

	value, err := cmd.Decoder.Parse(data)
	if err != nil {
		var de *obd.DecodeError
		if errors.As(err, &de) {
			de.Raw = raw
		} else {
			err = &obd.DecodeError{Raw: raw, Reason: err.Error()}
		}
		return obd.Failure[models.DecodedReading](fmt.Errorf("%s: %w", cmd, err))
	}
	reading.Value = value
	return obd.Success(reading)
}
