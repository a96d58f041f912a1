// Package wire implements the outer frame format spoken on the WhatsApp Web
// socket: every frame is an ASCII tag, a comma, and either a UTF-8 JSON
// payload or a metric/flag byte pair followed by the sealed binary payload.
package wire

import (
	"bytes"
	"errors"
	"fmt"
)

// Metric selects the server-side routing behavior of a binary frame.
type Metric byte

const (
	MetricDebugLog Metric = iota + 1
	MetricQueryResume
	MetricQueryReceipt
	MetricQueryMedia
	MetricGroup
	MetricQueryGroup
	MetricPresence
	MetricPicture
	MetricBlock
	MetricQueryContact
	MetricQueryStatus
	MetricQueryChat
)

// Flag is the second routing byte of a binary frame. Flags combine as a
// bitmask; FlagIgnore is the zero value and asks for no delivery receipt.
type Flag byte

const (
	FlagIgnore      Flag = 0
	FlagSkipOffline Flag = 1 << 2
	FlagExpires     Flag = 1 << 3
	FlagUnavailable Flag = 1 << 4
	FlagAvailable   Flag = 1 << 5
	FlagAckRequest  Flag = 1 << 6
)

// BinaryTags is the metric/flag pair prefixed to a binary frame.
type BinaryTags struct {
	Metric Metric
	Flag   Flag
}

const separator = ','

// ErrNoSeparator is returned when an inbound frame carries no tag separator.
var ErrNoSeparator = errors.New("wire: frame has no tag separator")

// EncodeJSON composes an outbound JSON frame: "<tag>,<json>".
func EncodeJSON(tag string, payload []byte) []byte {
	out := make([]byte, 0, len(tag)+1+len(payload))
	out = append(out, tag...)
	out = append(out, separator)
	return append(out, payload...)
}

// EncodeBinary composes an outbound binary frame:
// "<tag>," followed by the metric byte, the flag byte, and the sealed payload.
func EncodeBinary(tag string, tags BinaryTags, sealed []byte) []byte {
	out := make([]byte, 0, len(tag)+3+len(sealed))
	out = append(out, tag...)
	out = append(out, separator, byte(tags.Metric), byte(tags.Flag))
	return append(out, sealed...)
}

// Split separates an inbound frame into its tag and payload at the first
// comma. The payload may be empty (keep-alive responses).
func Split(frame []byte) (tag string, payload []byte, err error) {
	i := bytes.IndexByte(frame, separator)
	if i < 0 {
		return "", nil, fmt.Errorf("%w: %.24q", ErrNoSeparator, frame)
	}
	return string(frame[:i]), frame[i+1:], nil
}

// IsJSON reports whether an inbound payload is a JSON value rather than a
// sealed binary body. JSON replies start with '{', '[' or an ASCII digit.
func IsJSON(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	switch b := payload[0]; {
	case b == '{' || b == '[':
		return true
	case b >= '0' && b <= '9':
		return true
	}
	return false
}
