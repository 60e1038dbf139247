package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/loraert/ert/linkerr"
)

// AckEncoding is the wire tag carried in an ACK_RESPONSE payload,
// identifying which of the two encodings follows.
type AckEncoding uint8

const (
	// AckCumulative reports "everything up to and including
	// CumulativeSequence has been received in order"; anything the sender
	// transmitted beyond it must be retransmitted.
	AckCumulative AckEncoding = iota
	// AckBitmap reports a per-sequence missing/received bitmap starting
	// at WindowBase, used when the gap isn't a single trailing run.
	AckBitmap
)

// bitmapWindowBits bounds an ACK_RESPONSE bitmap to keep it well inside one
// packet's payload: 224 bits covers 28 bytes, leaving headroom alongside
// the 5-byte tag+window-base prefix under MaxPayloadSize.
const bitmapWindowBits = 224

// AckResponse is the parsed or to-be-encoded body of an ACK_RESPONSE
// packet.
type AckResponse struct {
	Encoding            AckEncoding
	CumulativeSequence  uint32
	WindowBase          uint32
	Bitmap              []byte
}

// BuildAckResponse picks the shorter of the two encodings for the given
// receive state: lastContiguous is the highest sequence number received
// with no gap below it, and missing is every out-of-window sequence number
// above lastContiguous that has not yet arrived, in ascending order.
// windowBase anchors the bitmap encoding when one is needed.
func BuildAckResponse(lastContiguous uint32, missing []uint32, windowBase uint32) AckResponse {
	if len(missing) == 0 {
		return AckResponse{Encoding: AckCumulative, CumulativeSequence: lastContiguous}
	}

	trailing := true
	for i, seq := range missing {
		if seq != lastContiguous+1+uint32(i) {
			trailing = false
			break
		}
	}
	if trailing {
		return AckResponse{Encoding: AckCumulative, CumulativeSequence: lastContiguous}
	}

	missingSet := make(map[uint32]bool, len(missing))
	for _, m := range missing {
		missingSet[m] = true
	}
	bitmap := make([]byte, bitmapWindowBits/8)
	for i := 0; i < bitmapWindowBits; i++ {
		if missingSet[windowBase+uint32(i)] {
			bitmap[i/8] |= 1 << uint(i%8)
		}
	}
	return AckResponse{Encoding: AckBitmap, WindowBase: windowBase, Bitmap: bitmap}
}

// Encode serializes an AckResponse as an ACK_RESPONSE payload.
func (a AckResponse) Encode() []byte {
	switch a.Encoding {
	case AckBitmap:
		buf := make([]byte, 5+len(a.Bitmap))
		buf[0] = byte(AckBitmap)
		binary.LittleEndian.PutUint32(buf[1:5], a.WindowBase)
		copy(buf[5:], a.Bitmap)
		return buf
	default:
		buf := make([]byte, 5)
		buf[0] = byte(AckCumulative)
		binary.LittleEndian.PutUint32(buf[1:5], a.CumulativeSequence)
		return buf
	}
}

// DecodeAckResponse parses an ACK_RESPONSE payload produced by Encode.
func DecodeAckResponse(payload []byte) (AckResponse, error) {
	if len(payload) < 5 {
		return AckResponse{}, fmt.Errorf("protocol: ack_response payload of %d bytes too short: %w", len(payload), linkerr.ErrInvalidArg)
	}
	switch AckEncoding(payload[0]) {
	case AckCumulative:
		return AckResponse{Encoding: AckCumulative, CumulativeSequence: binary.LittleEndian.Uint32(payload[1:5])}, nil
	case AckBitmap:
		return AckResponse{
			Encoding:   AckBitmap,
			WindowBase: binary.LittleEndian.Uint32(payload[1:5]),
			Bitmap:     append([]byte(nil), payload[5:]...),
		}, nil
	default:
		return AckResponse{}, fmt.Errorf("protocol: unknown ack encoding %d: %w", payload[0], linkerr.ErrInvalidArg)
	}
}

// MissingSequences expands an AckResponse into the set of sequence numbers
// the sender must retransmit, given that it has transferred every sequence
// number through lastTransferred.
func (a AckResponse) MissingSequences(lastTransferred uint32) []uint32 {
	var missing []uint32
	switch a.Encoding {
	case AckCumulative:
		for seq := a.CumulativeSequence + 1; seq <= lastTransferred; seq++ {
			missing = append(missing, seq)
		}
	case AckBitmap:
		for i := 0; i < len(a.Bitmap)*8; i++ {
			seq := a.WindowBase + uint32(i)
			if seq > lastTransferred {
				break
			}
			if a.Bitmap[i/8]&(1<<uint(i%8)) != 0 {
				missing = append(missing, seq)
			}
		}
	}
	return missing
}
