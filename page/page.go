// Package page implements the fixed-size, framed page store: component A
// of the storage engine. Every page on disk is [magic][version][payload]
// zero-padded to PageSize, as specified; this is a simpler, one-payload-
// per-page framing than the teacher's slotted, multi-record page format
// (storage/page.go in the example pack), since the document store maps
// one page to one serialized document rather than packing many SQL rows
// per page.
package page

import "github.com/pkg/errors"

// PageSize is the default fixed page size in bytes.
const PageSize = 4096

// Magic and Version identify a well-formed page header.
var Magic = [4]byte{'B', 'Z', 'D', 'B'}

const Version byte = 0x01

// HeaderSize is the framing overhead before the payload: 4 magic bytes
// plus 1 version byte.
const HeaderSize = 5

// MaxPayload is the largest payload a single page can hold.
const MaxPayload = PageSize - HeaderSize

// ErrTooLarge is returned when a payload exceeds MaxPayload.
var ErrTooLarge = errors.New("page: payload exceeds page capacity")

// ErrInvalidHeader is returned when a page's header bytes do not match
// Magic+Version but are not all-zero either.
var ErrInvalidHeader = errors.New("page: invalid page header")

// frame lays out [magic][version][payload][zero-pad] into a full
// PageSize-byte buffer. The caller must have already validated len(payload).
func frame(payload []byte) [PageSize]byte {
	var buf [PageSize]byte
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	copy(buf[HeaderSize:], payload)
	return buf
}

// hasValidHeader reports whether the first HeaderSize bytes match Magic+Version.
func hasValidHeader(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	return buf[0] == Magic[0] && buf[1] == Magic[1] && buf[2] == Magic[2] && buf[3] == Magic[3] && buf[4] == Version
}

// isAllZero reports whether every byte in buf is zero.
func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

// trimTrailingZeros removes a trailing run of zero bytes from a payload
// slice read back from a page, so a round-tripped empty payload decodes
// to a zero-length (not nil-vs-padding-ambiguous) slice.
func trimTrailingZeros(buf []byte) []byte {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return buf[:end]
}
