// Package quote parses TDX quotes as returned by the Quote Generation Service.
//
// Only the parts needed to inspect a quote are decoded: the v4 header, the TD report body,
// and the head of the ECDSA signature. Verification of the signature chain is left to the relying party.
package quote

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
   TDX (SGX Quote 4 / SGX Report 2) Quote layout
   Based on:
   https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/common/inc/sgx_quote_4.h#L113
   https://github.com/intel/linux-sgx/blob/d5e10dfbd7381bcd47eb25d2dc1d2da4e9a91e70/common/inc/sgx_report2.h#L61

	offset  size  field
	     0    48  SGXQuote4Header
	    48   584  SGXReport2 (ReportData at 568)
	   632     4  signature length
	   636     n  ECDSA256QuoteV4AuthData
*/

const (
	// TEETypeSGX is the type number referenced in the Quote header for SGX quotes.
	TEETypeSGX = 0x0
	// TEETypeTDX is the type number referenced in the Quote header for TDX quotes.
	TEETypeTDX = 0x81

	// HeaderSize is the size of a v4 quote header.
	HeaderSize = 48
	// BodySize is the size of a TD quote body.
	BodySize = 584
	// ReportDataOffset is the offset of the report data in a raw TDX quote.
	ReportDataOffset = HeaderSize + 520

	signatureLengthOffset = HeaderSize + BodySize
	signatureOffset       = signatureLengthOffset + 4
	// minSignatureSize covers ECDSA signature, attestation public key, and the certification data head.
	minSignatureSize = 64 + 64 + 2 + 4
	maxQuoteSize     = 1 << 20
)

// ErrInvalidQuote is returned if a quote can not be parsed.
var ErrInvalidQuote = errors.New("invalid quote")

// SGXQuote4Header is the header of an SGX/TDX quote compatible with v4 of the TrustedPlatform API.
type SGXQuote4Header struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32 // 0x0 = SGX, 0x81 = TDX
	Reserved           uint32
	VendorID           [16]byte
	UserData           [20]byte
}

// SGXReport2 is a TDReport for Intel TDX platforms, originally passed into the quote for signing.
type SGXReport2 struct {
	TCBSVN         [16]byte
	MRSEAM         [48]byte    // SHA384
	MRSIGNERSEAM   [48]byte    // SHA384
	SEAMAttributes uint64      // TEE Attributes: In C code that's a [2]uint32
	TDAttributes   uint64      // TEE Attributes: In C code that's a [2]uint32
	XFAM           uint64      // TEE Attributes: In C code that's a [2]uint32
	MRTD           [48]byte    // SHA384
	MRCONFIG       [48]byte    // SHA384
	MROWNER        [48]byte    // SHA384
	MROWNERCONFIG  [48]byte    // SHA384
	RTMR           [4][48]byte // 4x SHA384 - runtime measurements
	ReportData     [64]byte
}

// Signature is the head of an ECDSA256QuoteV4AuthData.
// CertificationData holds the undecoded certification data.
type Signature struct {
	Signature             [64]byte
	PublicKey             [64]byte
	CertificationDataType uint16
	CertificationData     []byte
}

// SGXQuote4 is an SGX/TDX quote compatible with v4 of the TrustedPlatform API.
type SGXQuote4 struct {
	Header          SGXQuote4Header
	Body            SGXReport2
	SignatureLength uint32
	Signature       Signature
	RawSignature    []byte
}

// ParseQuote parses an Intel TDX v4 Quote. The expected input is the complete quote.
func ParseQuote(rawQuote []byte) (SGXQuote4, error) {
	quoteLength := len(rawQuote)
	if quoteLength < signatureOffset {
		return SGXQuote4{}, fmt.Errorf("%w: quote structure is too short to be parsed (received: %d bytes)", ErrInvalidQuote, quoteLength)
	} else if quoteLength > maxQuoteSize {
		return SGXQuote4{}, fmt.Errorf("%w: quote is too large (over 1 MiB, received: %d bytes)", ErrInvalidQuote, quoteLength)
	}

	header := parseHeader(rawQuote[:HeaderSize])
	if header.Version != 4 {
		return SGXQuote4{}, fmt.Errorf("%w: quote version is not 4 (got: %d)", ErrInvalidQuote, header.Version)
	}
	if header.TEEType != TEETypeTDX {
		return SGXQuote4{}, fmt.Errorf("%w: quote does not appear to be a TDX quote (expected TEEType: %d, got: %d)", ErrInvalidQuote, TEETypeTDX, header.TEEType)
	}

	body := parseBody(rawQuote[HeaderSize:signatureLengthOffset])

	// Upgrade to uint64 since we could overflow if the length is close to the top of uint32.
	signatureLength := binary.LittleEndian.Uint32(rawQuote[signatureLengthOffset:signatureOffset])
	endSignature := uint64(signatureOffset) + uint64(signatureLength)
	if endSignature > uint64(quoteLength) {
		return SGXQuote4{}, fmt.Errorf("%w: quote SignatureLength is either incorrect or data is truncated (requires: %d bytes, left: %d bytes)",
			ErrInvalidQuote, signatureLength, quoteLength-signatureOffset)
	}
	rawSignature := make([]byte, signatureLength)
	copy(rawSignature, rawQuote[signatureOffset:endSignature])

	signature, err := parseSignature(rawSignature)
	if err != nil {
		return SGXQuote4{}, fmt.Errorf("parsing quote signature: %w", err)
	}

	return SGXQuote4{
		Header:          header,
		Body:            body,
		SignatureLength: signatureLength,
		Signature:       signature,
		RawSignature:    rawSignature,
	}, nil
}

func parseHeader(raw []byte) SGXQuote4Header {
	return SGXQuote4Header{
		Version:            binary.LittleEndian.Uint16(raw[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(raw[2:4]),
		TEEType:            binary.LittleEndian.Uint32(raw[4:8]),
		Reserved:           binary.LittleEndian.Uint32(raw[8:12]),
		VendorID:           [16]byte(raw[12:28]),
		UserData:           [20]byte(raw[28:48]),
	}
}

func parseBody(raw []byte) SGXReport2 {
	return SGXReport2{
		TCBSVN:         [16]byte(raw[0:16]),
		MRSEAM:         [48]byte(raw[16:64]),
		MRSIGNERSEAM:   [48]byte(raw[64:112]),
		SEAMAttributes: binary.LittleEndian.Uint64(raw[112:120]),
		TDAttributes:   binary.LittleEndian.Uint64(raw[120:128]),
		XFAM:           binary.LittleEndian.Uint64(raw[128:136]),
		MRTD:           [48]byte(raw[136:184]),
		MRCONFIG:       [48]byte(raw[184:232]),
		MROWNER:        [48]byte(raw[232:280]),
		MROWNERCONFIG:  [48]byte(raw[280:328]),
		RTMR:           [4][48]byte{[48]byte(raw[328:376]), [48]byte(raw[376:424]), [48]byte(raw[424:472]), [48]byte(raw[472:520])},
		ReportData:     [64]byte(raw[520:584]),
	}
}

// parseSignature parses the head of an ECDSA256QuoteV4AuthData.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteVerification/QVL/Src/AttestationLibrary/src/QuoteVerification/QuoteStructures.h
func parseSignature(signature []byte) (Signature, error) {
	signatureLength := len(signature)
	if signatureLength < minSignatureSize {
		return Signature{}, fmt.Errorf("%w: signature is too short to be parsed (received: %d bytes)", ErrInvalidQuote, signatureLength)
	}

	certDataSize := uint64(binary.LittleEndian.Uint32(signature[130:134]))
	endCertData := minSignatureSize + certDataSize
	if endCertData > uint64(signatureLength) {
		return Signature{}, fmt.Errorf("%w: certification data size is either incorrect or data is truncated (requires: %d bytes, left: %d bytes)",
			ErrInvalidQuote, certDataSize, signatureLength-minSignatureSize)
	}

	return Signature{
		Signature:             [64]byte(signature[0:64]),
		PublicKey:             [64]byte(signature[64:128]),
		CertificationDataType: binary.LittleEndian.Uint16(signature[128:130]),
		CertificationData:     signature[minSignatureSize:endCertData],
	}, nil
}
