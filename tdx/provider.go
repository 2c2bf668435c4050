package tdx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Provider generates TD reports and quotes using a single TDX guest driver protocol.
// Every operation opens the device, and closes it again before returning.
// A Provider is safe for concurrent use.
type Provider struct {
	protocol DeviceProtocol
	open     func(path string) (Device, error)
	clock    clock.Clock
	timeout  time.Duration
	log      *zap.Logger
}

// NewProvider returns a Provider for the given protocol.
// Context bound operations give up after timeout. A timeout of zero disables it.
func NewProvider(protocol DeviceProtocol, timeout time.Duration, log *zap.Logger) *Provider {
	return &Provider{
		protocol: protocol,
		open:     openDevice,
		clock:    clock.RealClock{},
		timeout:  timeout,
		log:      log,
	}
}

// Variant returns the driver generation the provider talks to.
func (p *Provider) Variant() Variant {
	return p.protocol.Variant()
}

// GetReport requests a TD report embedding reportData.
func (p *Provider) GetReport(reportData [ReportDataSize]byte) ([TDReportSize]byte, error) {
	dev, err := p.open(p.protocol.DevicePath())
	if err != nil {
		return [TDReportSize]byte{}, err
	}
	defer dev.Close()

	report, err := p.protocol.getReport(dev, reportData)
	if err != nil {
		return [TDReportSize]byte{}, fmt.Errorf("%w: %w", ErrReportIoctl, err)
	}
	return report, nil
}

// GetQuote hands a get quote request to the host and returns the quote from its response.
func (p *Provider) GetQuote(req *QGSQuoteRequest) ([]byte, error) {
	dev, err := p.open(p.protocol.DevicePath())
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	buf := &quoteTransferBuffer{}
	buf.encodeRequest(req.Marshal())
	if err := p.protocol.getQuote(dev, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuoteIoctl, err)
	}
	if buf.status != 0 {
		p.log.Debug("Quote transfer buffer reports non zero status", zap.Uint64("status", buf.status))
	}
	return buf.decodeResponse()
}

// GenerateQuote binds nonce and userData into a TD report, and returns the quote for that report.
// userData may be empty.
func (p *Provider) GenerateQuote(ctx context.Context, nonce, userData []byte) ([]byte, error) {
	reportData, err := BindReportData(nonce, userData)
	if err != nil {
		return nil, err
	}
	return blocking(ctx, p, func() ([]byte, error) {
		return p.generateQuote(reportData)
	})
}

// GenerateQuoteBase64 is like GenerateQuote, but takes standard base64 encoded inputs.
func (p *Provider) GenerateQuoteBase64(ctx context.Context, nonce, userData string) ([]byte, error) {
	reportData, err := BindReportDataBase64(nonce, userData)
	if err != nil {
		return nil, err
	}
	return blocking(ctx, p, func() ([]byte, error) {
		return p.generateQuote(reportData)
	})
}

func (p *Provider) generateQuote(reportData [ReportDataSize]byte) ([]byte, error) {
	log := p.log.With(zap.Stringer("variant", p.protocol.Variant()))

	log.Debug("Requesting TD report")
	report, err := p.GetReport(reportData)
	if err != nil {
		return nil, err
	}
	if EmbeddedReportData(report) != reportData {
		return nil, ErrReportMismatch
	}

	log.Debug("Requesting quote")
	quote, err := p.GetQuote(NewQGSQuoteRequest(report))
	if err != nil {
		return nil, err
	}
	log.Debug("Received quote", zap.Int("size", len(quote)))
	return quote, nil
}

// ReadMeasurements reads the MRTD and RTMRs of the TD.
func (p *Provider) ReadMeasurements(ctx context.Context) (Measurements, error) {
	// TDX does not support directly reading RTMRs
	// Instead, create a new report with zeroed report data,
	// and read the RTMRs and MRTD from the report
	report, err := blocking(ctx, p, func() ([TDReportSize]byte, error) {
		return p.GetReport([ReportDataSize]byte{})
	})
	if err != nil {
		return Measurements{}, fmt.Errorf("creating report: %w", err)
	}
	return ParseMeasurements(report), nil
}

// blocking runs fn on its own goroutine and waits until it returns, ctx is done, or the timeout expires.
// On cancellation fn keeps running until the driver returns, and its result is dropped.
func blocking[T any](ctx context.Context, p *Provider, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn()
		done <- result{val: val, err: err}
	}()

	var expired <-chan time.Time
	if p.timeout > 0 {
		timer := p.clock.NewTimer(p.timeout)
		defer timer.Stop()
		expired = timer.C()
	}

	var zero T
	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return zero, fmt.Errorf("abandoned waiting for TDX guest device: %w", ctx.Err())
	case <-expired:
		return zero, fmt.Errorf("%w after %s", ErrTimeout, p.timeout)
	}
}

func openDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDeviceOpen, path, err)
	}
	return f, nil
}
