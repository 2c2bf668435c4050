// Package tdx provides functionality to interact with the Intel TDX guest device.
//
// Quote generation is a two stage exchange with the guest driver:
//
//  1. A TD report embedding 64 bytes of caller chosen report data is requested from the TDX module.
//  2. The report is wrapped into a Quote Generation Service (QGS) message and handed to the host,
//     which returns a signed quote in the same transfer buffer.
//
// Two incompatible driver generations exist. The TDX 1.0 driver exposes /dev/tdx-guest,
// the upstream (TDX 1.5) driver exposes /dev/tdx_guest. [Locate] selects the matching
// [DeviceProtocol] once, and the rest of the package only talks to that protocol.
package tdx

import (
	"errors"
	"unsafe"

	"github.com/vtolstov/go-ioctl"
)

const (
	// DeprecatedDevicePath is the device node of pre-release TDX guest kernels. It is not supported.
	DeprecatedDevicePath = "/dev/tdx-attest"
	// GuestDevice10Path is the device node of the TDX 1.0 guest driver.
	GuestDevice10Path = "/dev/tdx-guest"
	// GuestDevice15Path is the device node of the upstream TDX guest driver (TDX 1.5).
	GuestDevice15Path = "/dev/tdx_guest"
)

var (
	// ErrInputEncoding is returned if the nonce or user data is not valid base64.
	ErrInputEncoding = errors.New("input is not base64 encoded")
	// ErrInputTooLarge is returned if the nonce or user data exceeds MaxInputSize.
	ErrInputTooLarge = errors.New("input is too large")
	// ErrEmptyNonce is returned if no nonce was given.
	ErrEmptyNonce = errors.New("nonce must not be empty")
	// ErrDeviceNotFound is returned if no TDX guest device exists.
	ErrDeviceNotFound = errors.New("no TDX guest device found")
	// ErrDeprecatedDevice is returned if only the deprecated TDX guest device exists.
	ErrDeprecatedDevice = errors.New("deprecated TDX guest device")
	// ErrDeviceOpen is returned if the TDX guest device could not be opened.
	ErrDeviceOpen = errors.New("opening TDX guest device")
	// ErrReportIoctl is returned if the kernel rejected the TD report request.
	ErrReportIoctl = errors.New("requesting TD report")
	// ErrReportMismatch is returned if a TD report does not embed the requested report data.
	ErrReportMismatch = errors.New("TD report does not embed the requested report data")
	// ErrQuoteIoctl is returned if the kernel rejected the quote request.
	ErrQuoteIoctl = errors.New("requesting quote")
	// ErrMalformedQuoteSize is returned if the size fields of a quote response are inconsistent.
	ErrMalformedQuoteSize = errors.New("malformed quote size")
	// ErrQGSProtocol is returned if the QGS response header is not a successful get quote response.
	ErrQGSProtocol = errors.New("QGS response error")
	// ErrEncoding is returned if a quote could not be encoded for transport.
	ErrEncoding = errors.New("encoding quote")
	// ErrTimeout is returned if the device did not answer in time.
	ErrTimeout = errors.New("timed out waiting for TDX guest device")
)

// IOCTL calls for report and quote generation.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L53-L56
// https://github.com/torvalds/linux/blob/v6.6/include/uapi/linux/tdx-guest.h
var (
	requestReport10 = ioctl.IOWR('T', 0x01, 8)
	requestReport15 = ioctl.IOWR('T', 0x01, unsafe.Sizeof(reportRequest15{}))
	requestQuote10  = ioctl.IOR('T', 0x02, 8)
	requestQuote15  = ioctl.IOR('T', 0x04, unsafe.Sizeof(quoteRequest{}))
)

// Device is an open handle to the TDX guest device.
type Device interface {
	Fd() uintptr
	Close() error
}

// Variant identifies a TDX guest driver generation.
type Variant int

const (
	// Variant10 is the TDX 1.0 guest driver.
	Variant10 Variant = iota + 1
	// Variant15 is the upstream TDX 1.5 guest driver.
	Variant15
)

func (v Variant) String() string {
	switch v {
	case Variant10:
		return "TDX 1.0"
	case Variant15:
		return "TDX 1.5"
	default:
		return "unknown"
	}
}

// DeviceProtocol issues the driver specific ioctls of one TDX guest driver generation.
type DeviceProtocol interface {
	// Variant returns the driver generation.
	Variant() Variant
	// DevicePath returns the device node to open.
	DevicePath() string

	getReport(dev Device, reportData [ReportDataSize]byte) ([TDReportSize]byte, error)
	getQuote(dev Device, buf *quoteTransferBuffer) error
}

// ioctlFunc issues a single ioctl. arg must point to memory laid out as the driver expects for request.
type ioctlFunc func(fd, request uintptr, arg unsafe.Pointer) error

type protocol10 struct {
	path  string
	ioctl ioctlFunc
}

func (p *protocol10) Variant() Variant   { return Variant10 }
func (p *protocol10) DevicePath() string { return p.path }

func (p *protocol10) getReport(dev Device, reportData [ReportDataSize]byte) ([TDReportSize]byte, error) {
	var tdReport [TDReportSize]byte
	req := reportRequest10{
		subtype:          0,
		reportData:       &reportData,
		reportDataLength: ReportDataSize,
		tdReport:         &tdReport,
		tdReportLength:   TDReportSize,
	}
	if err := p.ioctl(dev.Fd(), requestReport10, unsafe.Pointer(&req)); err != nil {
		return [TDReportSize]byte{}, err
	}
	return tdReport, nil
}

// getQuote passes the address of the tdx_quote_req. The 1.0 driver declares
// its argument as a plain __u64 handle.
func (p *protocol10) getQuote(dev Device, buf *quoteTransferBuffer) error {
	req := quoteRequest{
		buffer: buf,
		length: quoteDataSize,
	}
	return p.ioctl(dev.Fd(), requestQuote10, unsafe.Pointer(&req))
}

type protocol15 struct {
	path  string
	ioctl ioctlFunc
}

func (p *protocol15) Variant() Variant   { return Variant15 }
func (p *protocol15) DevicePath() string { return p.path }

func (p *protocol15) getReport(dev Device, reportData [ReportDataSize]byte) ([TDReportSize]byte, error) {
	req := &reportRequest15{reportData: reportData}
	if err := p.ioctl(dev.Fd(), requestReport15, unsafe.Pointer(req)); err != nil {
		return [TDReportSize]byte{}, err
	}
	return req.tdReport, nil
}

// getQuote passes the tdx_quote_req itself, the 1.5 driver encodes its full size in the request number.
func (p *protocol15) getQuote(dev Device, buf *quoteTransferBuffer) error {
	req := quoteRequest{
		buffer: buf,
		length: quoteDataSize,
	}
	return p.ioctl(dev.Fd(), requestQuote15, unsafe.Pointer(&req))
}
