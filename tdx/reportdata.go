package tdx

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
)

// MaxInputSize is the largest accepted decoded nonce or user data.
const MaxInputSize = 64 * 1024

// BindReportData derives the report data for a TD report from a nonce and optional user data.
// The result is SHA-512(nonce || userData). The order of the inputs is significant.
func BindReportData(nonce, userData []byte) ([ReportDataSize]byte, error) {
	if len(nonce) == 0 {
		return [ReportDataSize]byte{}, ErrEmptyNonce
	}

	h := sha512.New()
	h.Write(nonce)
	if len(userData) > 0 {
		h.Write(userData)
	}

	var reportData [ReportDataSize]byte
	copy(reportData[:], h.Sum(nil))
	return reportData, nil
}

// BindReportDataBase64 is like BindReportData, but takes standard base64 encoded inputs.
// An empty userData is treated as absent.
func BindReportDataBase64(nonce, userData string) ([ReportDataSize]byte, error) {
	rawNonce, err := decodeInput("nonce", nonce)
	if err != nil {
		return [ReportDataSize]byte{}, err
	}
	rawUserData, err := decodeInput("user data", userData)
	if err != nil {
		return [ReportDataSize]byte{}, err
	}
	return BindReportData(rawNonce, rawUserData)
}

func decodeInput(name, in string) ([]byte, error) {
	if base64.StdEncoding.DecodedLen(len(in)) > MaxInputSize+2 {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInputTooLarge, name, MaxInputSize)
	}
	out, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", ErrInputEncoding, name, err)
	}
	if len(out) > MaxInputSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, at most %d are allowed", ErrInputTooLarge, name, len(out), MaxInputSize)
	}
	return out, nil
}
