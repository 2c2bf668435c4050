// Package eventlog reads the Confidential Computing event log (CCEL) of a TD.
//
// The CCEL is a TCG crypto-agile event log. Its first event uses the legacy SHA-1 format and
// carries the "Spec ID Event03" structure, which declares the digest sizes of all later events.
// Event indices are CC measurement register indices: 0 is MRTD, 1 to 4 are RTMR0 to RTMR3.
package eventlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/google/go-eventlog/register"
	"github.com/google/go-eventlog/tcg"
)

const (
	// EventNoAction is the TCG event type of the Spec ID event.
	EventNoAction = 0x3
	// AlgorithmSHA1 is the TCG algorithm ID of SHA-1, used by the legacy first event.
	AlgorithmSHA1 = 0x0004
	// AlgorithmSHA384 is the TCG algorithm ID of SHA-384, used by all further events.
	AlgorithmSHA384 = 0x000C

	specIDSignature = "Spec ID Event03\x00"
	sha1Size        = 20
	// index, type, SHA-1 digest, event size
	specIDHeaderSize = 4 + 4 + sha1Size + 4
)

// DefaultPaths are the locations of the CCEL data, as mounted into a container and on the host.
var DefaultPaths = []string{
	"/run/firmware/acpi/tables/data/CCEL",
	"/sys/firmware/acpi/tables/data/CCEL",
}

var (
	// ErrNotFound is returned if none of the given event log paths can be read.
	ErrNotFound = errors.New("CCEL event log not found")
	// ErrInvalidLog is returned if the event log is malformed.
	ErrInvalidLog = errors.New("invalid CCEL event log")
	// ErrInvalidRange is returned if a requested page lies outside of the event log.
	ErrInvalidRange = errors.New("invalid event log range")
)

// Digest is a single digest of an event.
type Digest struct {
	AlgorithmID uint16 `json:"alg_id"`
	Hash        []byte `json:"hash"`
}

// Event is a single event log entry.
type Event struct {
	Index   uint32   `json:"index"`
	Type    uint32   `json:"type"`
	Digests []Digest `json:"digests"`
	Data    []byte   `json:"event"`
}

// Read reads and parses the first readable event log from paths.
// DefaultPaths are used if no path is given.
func Read(paths ...string) ([]Event, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}

	var errs []error
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return Parse(data)
	}
	return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(errs...))
}

// Parse parses a CCEL event log.
// The first returned event is the Spec ID event, followed by the SHA-384 events of the log.
// Padding of 0x00 or 0xFF bytes after the last event is ignored.
func Parse(data []byte) ([]Event, error) {
	specID, err := parseSpecIDEvent(data)
	if err != nil {
		return nil, err
	}

	opts := tcg.ParseOpts{AllowPadding: true}
	log, err := tcg.ParseEventLog(data, opts)
	if err != nil {
		// A last event ending in padding bytes is only recognized without trimming.
		if trimmed := trimPadding(data); len(trimmed) < len(data) {
			log, err = tcg.ParseEventLog(trimmed, opts)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLog, err)
	}

	events := []Event{specID}
	for _, e := range log.Events(register.HashSHA384) {
		events = append(events, Event{
			Index:   uint32(e.Index),
			Type:    uint32(e.Type),
			Digests: []Digest{{AlgorithmID: AlgorithmSHA384, Hash: bytes.Clone(e.Digest)}},
			Data:    bytes.Clone(e.Data),
		})
	}
	return events, nil
}

// Page returns count events starting at start. A count of zero returns all remaining events.
func Page(events []Event, start, count int) ([]Event, error) {
	if start < 0 || count < 0 || start > len(events) {
		return nil, fmt.Errorf("%w: start %d, count %d, log has %d events", ErrInvalidRange, start, count, len(events))
	}
	if count == 0 {
		return events[start:], nil
	}
	if start+count > len(events) {
		return nil, fmt.Errorf("%w: start %d, count %d, log has %d events", ErrInvalidRange, start, count, len(events))
	}
	return events[start : start+count], nil
}

/*
parseSpecIDEvent returns the legacy first event of the log.

	TCG_PCR_EVENT:
	  u32 pcrIndex, u32 eventType, [20]byte sha1, u32 eventSize, event
	TCG_EfiSpecIDEvent:
	  [16]byte signature, ...
*/
func parseSpecIDEvent(data []byte) (Event, error) {
	if len(data) < specIDHeaderSize {
		return Event{}, fmt.Errorf("%w: log is too short for a spec ID event", ErrInvalidLog)
	}
	eventType := binary.LittleEndian.Uint32(data[4:8])
	if eventType != EventNoAction {
		return Event{}, fmt.Errorf("%w: first event has type 0x%x, expected 0x%x", ErrInvalidLog, eventType, EventNoAction)
	}
	size := uint64(binary.LittleEndian.Uint32(data[specIDHeaderSize-4 : specIDHeaderSize]))
	if size > uint64(len(data)-specIDHeaderSize) {
		return Event{}, fmt.Errorf("%w: spec ID event size %d exceeds log", ErrInvalidLog, size)
	}
	event := data[specIDHeaderSize : specIDHeaderSize+int(size)]
	if !bytes.HasPrefix(event, []byte(specIDSignature)) {
		return Event{}, fmt.Errorf("%w: unexpected spec ID signature", ErrInvalidLog)
	}

	return Event{
		Index:   binary.LittleEndian.Uint32(data[0:4]),
		Type:    eventType,
		Digests: []Digest{{AlgorithmID: AlgorithmSHA1, Hash: bytes.Clone(data[8 : 8+sha1Size])}},
		Data:    bytes.Clone(event),
	}, nil
}

// trimPadding strips a trailing run of 0x00 or 0xFF bytes.
func trimPadding(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := data[len(data)-1]
	if pad != 0x00 && pad != 0xFF {
		return data
	}
	end := len(data)
	for end > 0 && data[end-1] == pad {
		end--
	}
	return data[:end]
}
