package tdx

import (
	"bytes"
	"errors"
	"fmt"
)

// AlgorithmSHA384 is the TCG algorithm ID of SHA-384, the only digest TDX measurements use.
const AlgorithmSHA384 = 0x000C

// MeasurementSize is the size of MRTD and each RTMR.
const MeasurementSize = 48

var (
	// ErrUnsupportedAlgorithm is returned if a measurement is requested for a digest other than SHA-384.
	ErrUnsupportedAlgorithm = errors.New("unsupported measurement algorithm")
	// ErrInvalidIndex is returned if a measurement index is out of range.
	ErrInvalidIndex = errors.New("invalid measurement index")
)

// TD report offsets.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/master/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h
const (
	reportDataOffset = 128
	mrtdOffset       = 528
	rtmrOffset       = 720
)

// Measurements holds the build time and runtime measurements of a TD.
type Measurements struct {
	MRTD [MeasurementSize]byte
	RTMR [4][MeasurementSize]byte
}

// ParseMeasurements reads the MRTD and RTMRs out of a TD report.
func ParseMeasurements(report [TDReportSize]byte) Measurements {
	m := Measurements{
		MRTD: [MeasurementSize]byte(report[mrtdOffset : mrtdOffset+MeasurementSize]),
	}
	for i := range m.RTMR {
		start := rtmrOffset + i*MeasurementSize
		m.RTMR[i] = [MeasurementSize]byte(report[start : start+MeasurementSize])
	}
	return m
}

// ByIndex returns a single measurement. Index 0 is MRTD, indices 1 to 4 are RTMR0 to RTMR3.
func (m Measurements) ByIndex(index int, algorithm uint16) ([]byte, error) {
	if algorithm != AlgorithmSHA384 {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedAlgorithm, algorithm)
	}
	switch {
	case index == 0:
		return bytes.Clone(m.MRTD[:]), nil
	case index >= 1 && index <= len(m.RTMR):
		return bytes.Clone(m.RTMR[index-1][:]), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
}

// EmbeddedReportData returns the report data of a TD report.
func EmbeddedReportData(report [TDReportSize]byte) [ReportDataSize]byte {
	return [ReportDataSize]byte(report[reportDataOffset : reportDataOffset+ReportDataSize])
}
