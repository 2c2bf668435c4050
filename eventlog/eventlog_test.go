package eventlog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-eventlog/register"
	"github.com/google/go-eventlog/tcg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logBuilder writes a CCEL event log.
type logBuilder struct {
	bytes.Buffer
}

func (b *logBuilder) u8(v uint8)   { b.WriteByte(v) }
func (b *logBuilder) u16(v uint16) { _ = binary.Write(b, binary.LittleEndian, v) }
func (b *logBuilder) u32(v uint32) { _ = binary.Write(b, binary.LittleEndian, v) }

func (b *logBuilder) specIDEvent(algorithms map[uint16]uint16) *logBuilder {
	var specID logBuilder
	specID.WriteString(specIDSignature)
	specID.u32(0) // platform class
	specID.Write([]byte{0, 2, 0, 2})
	specID.u32(uint32(len(algorithms)))
	for _, alg := range []uint16{AlgorithmSHA1, AlgorithmSHA384} {
		if size, ok := algorithms[alg]; ok {
			specID.u16(alg)
			specID.u16(size)
		}
	}
	specID.u8(3)
	specID.WriteString("abc")

	b.u32(0)
	b.u32(EventNoAction)
	b.Write(make([]byte, sha1Size))
	b.u32(uint32(specID.Len()))
	b.Write(specID.Bytes())
	return b
}

func (b *logBuilder) event(index, eventType uint32, digest []byte, data string) *logBuilder {
	b.u32(index)
	b.u32(eventType)
	b.u32(1)
	b.u16(AlgorithmSHA384)
	b.Write(digest)
	b.u32(uint32(len(data)))
	b.WriteString(data)
	return b
}

func testLog() []byte {
	b := &logBuilder{}
	b.specIDEvent(map[uint16]uint16{AlgorithmSHA384: 48})
	b.event(1, 0x80000001, bytes.Repeat([]byte{0x01}, 48), "firmware")
	b.event(2, 0x0D, bytes.Repeat([]byte{0x02}, 48), "kernel cmdline")
	b.event(3, 0x0D, bytes.Repeat([]byte{0x03}, 48), "")
	return b.Bytes()
}

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		trailer    []byte
		wantEvents int
	}{
		"end of data": {
			wantEvents: 4,
		},
		"0xFF padding": {
			trailer:    bytes.Repeat([]byte{0xFF}, 64),
			wantEvents: 4,
		},
		"zero padding": {
			trailer:    make([]byte, 64),
			wantEvents: 4,
		},
		"short trailer": {
			trailer:    []byte{0x00, 0x00},
			wantEvents: 4,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			events, err := Parse(append(testLog(), tc.trailer...))
			require.NoError(err)
			require.Len(events, tc.wantEvents)

			assert.EqualValues(EventNoAction, events[0].Type)
			assert.EqualValues(AlgorithmSHA1, events[0].Digests[0].AlgorithmID)
			assert.Len(events[0].Digests[0].Hash, sha1Size)

			assert.EqualValues(1, events[1].Index)
			assert.EqualValues(0x80000001, events[1].Type)
			assert.Equal([]Digest{{AlgorithmID: AlgorithmSHA384, Hash: bytes.Repeat([]byte{0x01}, 48)}}, events[1].Digests)
			assert.Equal([]byte("firmware"), events[1].Data)
			assert.Equal([]byte("kernel cmdline"), events[2].Data)
			assert.Empty(events[3].Data)
		})
	}
}

func TestParseZeroTerminatedData(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	b := &logBuilder{}
	b.specIDEvent(map[uint16]uint16{AlgorithmSHA384: 48})
	b.event(1, 0x0D, bytes.Repeat([]byte{0x01}, 48), "cmdline\x00\x00")

	events, err := Parse(b.Bytes())
	require.NoError(err)
	require.Len(events, 2)
	assert.Equal([]byte("cmdline\x00\x00"), events[1].Data)
}

func TestParseMatchesLibraryEvents(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	events, err := Parse(testLog())
	require.NoError(err)

	log, err := tcg.ParseEventLog(testLog(), tcg.ParseOpts{AllowPadding: true})
	require.NoError(err)
	libEvents := log.Events(register.HashSHA384)
	require.Len(events, len(libEvents)+1)

	for i, want := range libEvents {
		got := events[i+1]
		assert.EqualValues(want.Index, got.Index)
		assert.EqualValues(want.Type, got.Type)
		assert.Equal(want.Digest, got.Digests[0].Hash)
		assert.Equal([]byte(want.Data), got.Data)
	}
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]func() []byte{
		"empty": func() []byte { return nil },
		"first event is not a spec ID event": func() []byte {
			raw := testLog()
			binary.LittleEndian.PutUint32(raw[4:8], 0x0D)
			return raw
		},
		"wrong signature": func() []byte {
			raw := testLog()
			raw[32] = 'X'
			return raw
		},
		"truncated spec ID event": func() []byte {
			return testLog()[:40]
		},
		"undeclared algorithm": func() []byte {
			b := &logBuilder{}
			b.specIDEvent(map[uint16]uint16{AlgorithmSHA1: 20})
			b.event(1, 0x0D, make([]byte, 48), "event")
			return b.Bytes()
		},
		"truncated event": func() []byte {
			raw := testLog()
			return raw[:len(raw)-10]
		},
		"event size exceeds log": func() []byte {
			b := &logBuilder{}
			b.specIDEvent(map[uint16]uint16{AlgorithmSHA384: 48})
			b.u32(1)
			b.u32(0x0D)
			b.u32(1)
			b.u16(AlgorithmSHA384)
			b.Write(make([]byte, 48))
			b.u32(0xFFFFFFF0)
			return b.Bytes()
		},
		"huge digest count": func() []byte {
			b := &logBuilder{}
			b.specIDEvent(map[uint16]uint16{AlgorithmSHA384: 48})
			b.u32(1)
			b.u32(0x0D)
			b.u32(0xFFFFFFFF)
			return b.Bytes()
		},
	}

	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			_, err := Parse(raw())
			assert.ErrorIs(err, ErrInvalidLog)
		})
	}
}

func TestEventJSON(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	events, err := Parse(testLog())
	require.NoError(err)

	raw, err := json.Marshal(events[1])
	require.NoError(err)
	assert.JSONEq(`{"index":1,"type":2147483649,"digests":[{"alg_id":12,"hash":"AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEB"}],"event":"ZmlybXdhcmU="}`, string(raw))
}

func TestRead(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	present := filepath.Join(dir, "CCEL")
	require.NoError(os.WriteFile(present, testLog(), 0o600))

	events, err := Read(missing, present)
	require.NoError(err)
	assert.Len(events, 4)

	_, err = Read(missing)
	assert.ErrorIs(err, ErrNotFound)
	assert.ErrorIs(err, os.ErrNotExist)
}

func TestPage(t *testing.T) {
	events := make([]Event, 5)
	for i := range events {
		events[i].Index = uint32(i)
	}

	testCases := map[string]struct {
		start, count int
		want         []uint32
		wantErr      bool
	}{
		"all":              {start: 0, count: 0, want: []uint32{0, 1, 2, 3, 4}},
		"rest":             {start: 3, count: 0, want: []uint32{3, 4}},
		"window":           {start: 1, count: 2, want: []uint32{1, 2}},
		"until end":        {start: 3, count: 2, want: []uint32{3, 4}},
		"start at end":     {start: 5, count: 0, want: []uint32{}},
		"start beyond end": {start: 6, wantErr: true},
		"count beyond end": {start: 4, count: 2, wantErr: true},
		"negative start":   {start: -1, wantErr: true},
		"negative count":   {start: 0, count: -1, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			page, err := Page(events, tc.start, tc.count)
			if tc.wantErr {
				assert.ErrorIs(err, ErrInvalidRange)
				return
			}
			assert.NoError(err)
			got := []uint32{}
			for _, e := range page {
				got = append(got, e.Index)
			}
			assert.Equal(tc.want, got)
		})
	}
}

func FuzzParse(f *testing.F) {
	f.Add(testLog())
	f.Fuzz(func(t *testing.T, a []byte) {
		assert := assert.New(t)
		assert.NotPanics(func() { _, _ = Parse(a) })
	})
}
