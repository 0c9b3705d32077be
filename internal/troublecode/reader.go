// Package troublecode scans, clears and caches diagnostic trouble codes.
package troublecode

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"elmdiag/internal/dispatcher"
	"elmdiag/internal/models"
	"elmdiag/internal/obd"

	"go.uber.org/zap"
)

// Executor runs one command to completion. *connection.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, cmd obd.Command) dispatcher.Result
}

// Reader keeps the codes of the last successful scan.
type Reader struct {
	exec   Executor
	logger *zap.Logger

	mu     sync.RWMutex
	cached []models.TroubleCode
}

func NewReader(exec Executor, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{exec: exec, logger: logger}
}

// Scan reads the stored codes (mode 03). The cache is replaced only when the whole scan
// succeeds.
func (r *Reader) Scan(ctx context.Context) obd.ValueResult[[]models.TroubleCode] {
	res := r.read(ctx, obd.ModeStoredDTC)
	codes, err := res.Get()
	if err != nil {
		r.logger.Warn("trouble code scan failed", zap.Error(err))
		return res
	}
	r.mu.Lock()
	r.cached = codes
	r.mu.Unlock()
	r.logger.Info("trouble codes scanned", zap.Int("count", len(codes)))
	return obd.Success(copyCodes(codes))
}

// Pending reads codes detected during the current drive cycle (mode 07). The cache is
// not touched.
func (r *Reader) Pending(ctx context.Context) obd.ValueResult[[]models.TroubleCode] {
	return r.read(ctx, obd.ModePendingDTC)
}

// Clear erases stored codes (mode 04). The cache is emptied only when the ECU
// acknowledges.
func (r *Reader) Clear(ctx context.Context) obd.ValueResult[bool] {
	res := r.exec.Execute(ctx, obd.ModeRequest(obd.ModeClearDTC))
	reading, err := res.Get()
	if err != nil {
		r.logger.Warn("clearing trouble codes failed", zap.Error(err))
		return obd.Failure[bool](fmt.Errorf("clear trouble codes: %w", err))
	}
	if !acknowledged(reading.Value) {
		err := &obd.DecodeError{Raw: reading.RawValue, Reason: "clear not acknowledged"}
		r.logger.Warn("clearing trouble codes failed", zap.Error(err))
		return obd.Failure[bool](fmt.Errorf("clear trouble codes: %w", err))
	}
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
	r.logger.Info("trouble codes cleared")
	return obd.Success(true)
}

// Cached returns a copy of the last successful scan. It never does I/O.
func (r *Reader) Cached() []models.TroubleCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCodes(r.cached)
}

func (r *Reader) read(ctx context.Context, mode int) obd.ValueResult[[]models.TroubleCode] {
	res := r.exec.Execute(ctx, obd.ModeRequest(mode))
	reading, err := res.Get()
	if err != nil {
		return obd.Failure[[]models.TroubleCode](fmt.Errorf("read trouble codes: %w", err))
	}
	groups := obd.SplitFrame(reading.RawValue, fmt.Sprintf("%02X", mode))
	codes, err := obd.DecodeTroubleCodes(groups, byte(mode+0x40))
	if err != nil {
		return obd.Failure[[]models.TroubleCode](fmt.Errorf("read trouble codes: %w", err))
	}
	return obd.Success(codes)
}

func acknowledged(value string) bool {
	v := strings.ToUpper(strings.TrimSpace(value))
	return strings.HasPrefix(v, "44") || v == "OK"
}

func copyCodes(codes []models.TroubleCode) []models.TroubleCode {
	out := make([]models.TroubleCode, len(codes))
	copy(out, codes)
	return out
}
