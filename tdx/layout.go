package tdx

import (
	"encoding/binary"
	"fmt"
)

const (
	// ReportDataSize is the size of the caller chosen data embedded in a TD report.
	ReportDataSize = 64
	// TDReportSize is the size of a TD report.
	TDReportSize = 1024

	// qgsHeaderSize is the size of a serialized qgsMessageHeader.
	qgsHeaderSize = 16
	// QGSQuoteRequestSize is the size of a serialized get quote request without an ID list.
	QGSQuoteRequestSize = qgsHeaderSize + 4 + 4 + TDReportSize
	// qgsQuoteResponseHeaderSize is the size of the fixed part of a get quote response.
	qgsQuoteResponseHeaderSize = qgsHeaderSize + 4 + 4

	// quoteDataSize is the size of the payload area of the quote transfer buffer.
	// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/71557c7d1d869b6bd6f95566c051cbd098549509/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L103
	quoteDataSize = 4 * 4 * 1024
	// quoteLengthPrefixSize is the size of the big endian length in front of the QGS message.
	quoteLengthPrefixSize = 4
)

// QGS message types: https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L63-L69
const (
	qgsGetQuoteRequestType = iota
	qgsGetQuoteResponseType
)

/*
reportRequest10 is the structure used to create TD reports with the TDX 1.0 driver.

	struct tdx_report_req {
	       __u8  subtype;
	       __u64 reportdata;
	       __u32 rpd_len;
	       __u64 tdreport;
	       __u32 tdr_len;
	};
*/
type reportRequest10 struct {
	subtype          uint8
	reportData       *[ReportDataSize]byte
	reportDataLength uint32
	tdReport         *[TDReportSize]byte
	tdReportLength   uint32
}

// reportRequest15 is the structure used to create TD reports with the upstream driver.
// https://github.com/torvalds/linux/blob/v6.6/include/uapi/linux/tdx-guest.h#L28-L31
type reportRequest15 struct {
	reportData [ReportDataSize]byte
	tdReport   [TDReportSize]byte
}

// quoteRequest is tdx_quote_req, identical for both drivers.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/c057b236790834cf7e547ebf90da91c53c7ed7f9/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L82-L86
type quoteRequest struct {
	buffer *quoteTransferBuffer
	length uint64
}

// quoteTransferBuffer is tdx_quote_hdr followed by its payload.
// The driver reads the request from and writes the response to the same memory.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/71557c7d1d869b6bd6f95566c051cbd098549509/QuoteGeneration/quote_wrapper/tdx_attest/tdx_attest.c#L84-L95
type quoteTransferBuffer struct {
	version      uint64
	status       uint64
	inputLength  uint32
	outputLength uint32
	dataLength   [quoteLengthPrefixSize]byte // big endian
	data         [quoteDataSize]byte
}

// encodeRequest writes msg into the zeroed buffer.
func (b *quoteTransferBuffer) encodeRequest(msg [QGSQuoteRequestSize]byte) {
	b.version = 1
	b.status = 0
	b.inputLength = QGSQuoteRequestSize + quoteLengthPrefixSize
	b.outputLength = 0
	binary.BigEndian.PutUint32(b.dataLength[:], QGSQuoteRequestSize)
	copy(b.data[:], msg[:])
}

// decodeResponse validates the response written by the driver and returns a copy of the quote.
func (b *quoteTransferBuffer) decodeResponse() ([]byte, error) {
	responseSize := binary.BigEndian.Uint32(b.dataLength[:])
	if int64(b.outputLength)-int64(responseSize) != quoteLengthPrefixSize {
		return nil, fmt.Errorf("%w: output length %d, message length %d", ErrMalformedQuoteSize, b.outputLength, responseSize)
	}
	if responseSize > quoteDataSize {
		return nil, fmt.Errorf("%w: message length %d exceeds buffer", ErrMalformedQuoteSize, responseSize)
	}
	return parseQGSQuoteResponse(b.data[:responseSize])
}

// QGSMessageHeader is the header of every QGS message.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L71-L77
type QGSMessageHeader struct {
	MajorVersion uint16
	MinorVersion uint16
	MessageType  uint32
	Size         uint32 // size of the whole message, including this header
	ErrorCode    uint32
}

// Marshal returns the little endian wire form of the header.
func (h QGSMessageHeader) Marshal() [qgsHeaderSize]byte {
	var out [qgsHeaderSize]byte
	binary.LittleEndian.PutUint16(out[0:2], h.MajorVersion)
	binary.LittleEndian.PutUint16(out[2:4], h.MinorVersion)
	binary.LittleEndian.PutUint32(out[4:8], h.MessageType)
	binary.LittleEndian.PutUint32(out[8:12], h.Size)
	binary.LittleEndian.PutUint32(out[12:16], h.ErrorCode)
	return out
}

func parseQGSMessageHeader(raw []byte) QGSMessageHeader {
	return QGSMessageHeader{
		MajorVersion: binary.LittleEndian.Uint16(raw[0:2]),
		MinorVersion: binary.LittleEndian.Uint16(raw[2:4]),
		MessageType:  binary.LittleEndian.Uint32(raw[4:8]),
		Size:         binary.LittleEndian.Uint32(raw[8:12]),
		ErrorCode:    binary.LittleEndian.Uint32(raw[12:16]),
	}
}

// QGSQuoteRequest is a QGS get quote request carrying a single TD report and no ID list.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L79-L84
type QGSQuoteRequest struct {
	Header     QGSMessageHeader
	ReportSize uint32 // cannot be 0
	IDListSize uint32
	Report     [TDReportSize]byte
}

// NewQGSQuoteRequest wraps a TD report into a get quote request.
func NewQGSQuoteRequest(report [TDReportSize]byte) *QGSQuoteRequest {
	return &QGSQuoteRequest{
		Header: QGSMessageHeader{
			MajorVersion: 1,
			MinorVersion: 0,
			MessageType:  qgsGetQuoteRequestType,
			Size:         QGSQuoteRequestSize,
			ErrorCode:    0,
		},
		ReportSize: TDReportSize,
		IDListSize: 0,
		Report:     report,
	}
}

// Marshal returns the wire form of the request.
func (r *QGSQuoteRequest) Marshal() [QGSQuoteRequestSize]byte {
	var out [QGSQuoteRequestSize]byte
	header := r.Header.Marshal()
	copy(out[0:qgsHeaderSize], header[:])
	binary.LittleEndian.PutUint32(out[16:20], r.ReportSize)
	binary.LittleEndian.PutUint32(out[20:24], r.IDListSize)
	copy(out[24:], r.Report[:])
	return out
}

// parseQGSQuoteResponse checks the response header and returns a copy of the quote.
// https://github.com/intel/SGXDataCenterAttestationPrimitives/blob/09666b3b14147145232ea4f28d85762ca5da3c5d/QuoteGeneration/quote_wrapper/qgs_msg_lib/inc/qgs_msg_lib.h#L86-L91
func parseQGSQuoteResponse(raw []byte) ([]byte, error) {
	if len(raw) < qgsQuoteResponseHeaderSize {
		return nil, fmt.Errorf("%w: response of %d bytes is shorter than its header", ErrMalformedQuoteSize, len(raw))
	}

	header := parseQGSMessageHeader(raw[:qgsHeaderSize])
	if header.MajorVersion != 1 || header.MinorVersion != 0 {
		return nil, fmt.Errorf("%w: unsupported version %d.%d", ErrQGSProtocol, header.MajorVersion, header.MinorVersion)
	}
	if header.MessageType != qgsGetQuoteResponseType {
		return nil, fmt.Errorf("%w: unexpected message type %d", ErrQGSProtocol, header.MessageType)
	}
	if header.ErrorCode != 0 {
		return nil, fmt.Errorf("%w: error code 0x%x", ErrQGSProtocol, header.ErrorCode)
	}

	selectedIDSize := uint64(binary.LittleEndian.Uint32(raw[16:20]))
	quoteSize := uint64(binary.LittleEndian.Uint32(raw[20:24]))
	start := qgsQuoteResponseHeaderSize + selectedIDSize
	end := start + quoteSize
	if end > uint64(len(raw)) {
		return nil, fmt.Errorf("%w: quote of %d bytes at offset %d exceeds response of %d bytes", ErrMalformedQuoteSize, quoteSize, start, len(raw))
	}

	quote := make([]byte, quoteSize)
	copy(quote, raw[start:end])
	return quote, nil
}
