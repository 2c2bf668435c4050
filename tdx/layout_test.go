package tdx

import (
	"encoding/binary"
	"testing"

	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQGSQuoteRequest(t *testing.T) {
	assert := assert.New(t)

	report := fakeReport([ReportDataSize]byte{0x01})
	req := NewQGSQuoteRequest(report)

	assert.EqualValues(1, req.Header.MajorVersion)
	assert.EqualValues(0, req.Header.MinorVersion)
	assert.EqualValues(qgsGetQuoteRequestType, req.Header.MessageType)
	assert.EqualValues(1048, req.Header.Size)
	assert.EqualValues(0, req.Header.ErrorCode)
	assert.EqualValues(TDReportSize, req.ReportSize)
	assert.EqualValues(0, req.IDListSize)
	assert.Equal(report, req.Report)

	msg := req.Marshal()
	assert.Equal([]byte{1, 0, 0, 0, 0, 0, 0, 0, 0x18, 0x04, 0, 0, 0, 0, 0, 0}, msg[0:16])
	assert.Equal([]byte{0x00, 0x04, 0, 0, 0, 0, 0, 0}, msg[16:24])
	assert.Equal(report[:], msg[24:])
}

func TestEncodeRequest(t *testing.T) {
	assert := assert.New(t)

	msg := NewQGSQuoteRequest(fakeReport([ReportDataSize]byte{})).Marshal()
	buf := &quoteTransferBuffer{}
	buf.encodeRequest(msg)

	assert.EqualValues(1, buf.version)
	assert.EqualValues(0, buf.status)
	assert.EqualValues(1052, buf.inputLength)
	assert.EqualValues(0, buf.outputLength)
	assert.EqualValues(1048, binary.BigEndian.Uint32(buf.dataLength[:]))
	assert.Equal(msg[:], buf.data[:QGSQuoteRequestSize])
	assert.Equal(make([]byte, quoteDataSize-QGSQuoteRequestSize), buf.data[QGSQuoteRequestSize:])
}

func TestDecodeResponse(t *testing.T) {
	okHeader := QGSMessageHeader{MajorVersion: 1, MessageType: qgsGetQuoteResponseType}

	testCases := map[string]struct {
		prepare   func(buf *quoteTransferBuffer)
		wantQuote []byte
		wantErr   error
	}{
		"success": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, nil, []byte("quote"))
			},
			wantQuote: []byte("quote"),
		},
		"selected id is skipped": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, []byte("selected id"), []byte("quote"))
			},
			wantQuote: []byte("quote"),
		},
		"empty quote": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, nil, nil)
			},
			wantQuote: []byte{},
		},
		"output length one too large": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, nil, []byte("quote"))
				buf.outputLength++
			},
			wantErr: ErrMalformedQuoteSize,
		},
		"output length smaller than message length": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, nil, []byte("quote"))
				buf.outputLength = 0
			},
			wantErr: ErrMalformedQuoteSize,
		},
		"message length exceeds buffer": {
			prepare: func(buf *quoteTransferBuffer) {
				binary.BigEndian.PutUint32(buf.dataLength[:], quoteDataSize+1)
				buf.outputLength = quoteDataSize + 1 + quoteLengthPrefixSize
			},
			wantErr: ErrMalformedQuoteSize,
		},
		"message shorter than header": {
			prepare: func(buf *quoteTransferBuffer) {
				binary.BigEndian.PutUint32(buf.dataLength[:], 10)
				buf.outputLength = 14
			},
			wantErr: ErrMalformedQuoteSize,
		},
		"wrong major version": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, QGSMessageHeader{MajorVersion: 2, MessageType: qgsGetQuoteResponseType}, nil, []byte("quote"))
			},
			wantErr: ErrQGSProtocol,
		},
		"wrong minor version": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, QGSMessageHeader{MajorVersion: 1, MinorVersion: 1, MessageType: qgsGetQuoteResponseType}, nil, []byte("quote"))
			},
			wantErr: ErrQGSProtocol,
		},
		"request type": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, QGSMessageHeader{MajorVersion: 1, MessageType: qgsGetQuoteRequestType}, nil, []byte("quote"))
			},
			wantErr: ErrQGSProtocol,
		},
		"error code": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, QGSMessageHeader{MajorVersion: 1, MessageType: qgsGetQuoteResponseType, ErrorCode: 1}, nil, []byte("quote"))
			},
			wantErr: ErrQGSProtocol,
		},
		"quote size exceeds message": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, nil, []byte("quote"))
				binary.LittleEndian.PutUint32(buf.data[20:24], 6)
			},
			wantErr: ErrMalformedQuoteSize,
		},
		"selected id size overflows": {
			prepare: func(buf *quoteTransferBuffer) {
				writeResponse(buf, okHeader, nil, []byte("quote"))
				binary.LittleEndian.PutUint32(buf.data[16:20], 0xFFFFFFFF)
			},
			wantErr: ErrMalformedQuoteSize,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			buf := &quoteTransferBuffer{}
			tc.prepare(buf)

			rawQuote, err := buf.decodeResponse()
			if tc.wantErr != nil {
				assert.ErrorIs(err, tc.wantErr)
				assert.Nil(rawQuote)
				return
			}
			require.NoError(err)
			assert.Equal(tc.wantQuote, rawQuote)
		})
	}
}

func TestDecodeResponseCopiesQuote(t *testing.T) {
	require := require.New(t)

	buf := &quoteTransferBuffer{}
	writeResponse(buf, QGSMessageHeader{MajorVersion: 1, MessageType: qgsGetQuoteResponseType}, nil, []byte("quote"))

	rawQuote, err := buf.decodeResponse()
	require.NoError(err)
	buf.data[qgsQuoteResponseHeaderSize] = 'Q'
	require.Equal([]byte("quote"), rawQuote)
}

// fuzzResponse mirrors quoteTransferBuffer with exported fields.
type fuzzResponse struct {
	OutputLength   uint32
	DataLength     uint32
	Header         QGSMessageHeader
	SelectedIDSize uint32
	QuoteSize      uint32
	Payload        []byte
}

func FuzzDecodeResponse(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		target := fuzzResponse{}
		fuzzConsumer := fuzzheaders.NewConsumer(a)
		if err := fuzzConsumer.GenerateStruct(&target); err != nil {
			return
		}

		buf := &quoteTransferBuffer{outputLength: target.OutputLength}
		binary.BigEndian.PutUint32(buf.dataLength[:], target.DataLength)
		header := target.Header.Marshal()
		copy(buf.data[:], header[:])
		binary.LittleEndian.PutUint32(buf.data[16:20], target.SelectedIDSize)
		binary.LittleEndian.PutUint32(buf.data[20:24], target.QuoteSize)
		copy(buf.data[24:], target.Payload)

		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = buf.decodeResponse() })
	})
}
