// Package protocol implements the stream-multiplexed wire protocol carried
// over a transceiver: fixed packet framing with header and payload CRCs,
// per-stream sequencing and retransmission, and the ack/end-of-stream
// handshakes that make delivery reliable over a half-duplex radio link.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/loraert/ert/linkerr"
)

// PacketType identifies the purpose of a packet on the wire.
type PacketType uint8

const (
	TypeData PacketType = iota
	TypeAckRequest
	TypeAckResponse
	TypeEndOfStream
	TypeEndOfStreamAck
)

func (t PacketType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeAckRequest:
		return "ACK_REQUEST"
	case TypeAckResponse:
		return "ACK_RESPONSE"
	case TypeEndOfStream:
		return "END_OF_STREAM"
	case TypeEndOfStreamAck:
		return "END_OF_STREAM_ACK"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

// Flags is a bitfield carried in every packet header.
type Flags uint8

const (
	FlagStartOfStream Flags = 1 << iota
	FlagEndOfStream
	FlagAcksEnabled
	FlagAckRequestPending
	FlagRetransmit
)

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

const (
	// HeaderSize is the fixed, CRC-covered header length in bytes.
	HeaderSize = 20
	// MaxPacketLength is the maximum number of bytes the radio link will
	// carry in one transmission.
	MaxPacketLength = 255
	// MaxPayloadSize is the largest payload that still fits a packet
	// alongside the fixed header.
	MaxPayloadSize = MaxPacketLength - HeaderSize
	// headerCRCCoverage is the number of leading header bytes covered by
	// header_crc: every field up to, but not including, the two CRC
	// fields themselves.
	headerCRCCoverage = 16
)

// Header is the fixed 20-byte packet header. Fields are serialized
// little-endian in declaration order, with header_crc and payload_crc
// trailing the rest.
type Header struct {
	Type          PacketType
	Flags         Flags
	StreamID      uint16
	Port          uint16
	Sequence      uint32
	AckedSequence uint32
	PayloadLength uint16
	HeaderCRC     uint16
	PayloadCRC    uint16
}

// Encode serializes header and payload into one wire frame, computing and
// writing the computed header_crc and payload_crc into the frame. The
// Header argument is not mutated (its PayloadLength and CRC fields are
// ignored); callers that need the computed CRCs can re-Decode the result.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("protocol: payload of %d bytes exceeds max %d: %w", len(payload), MaxPayloadSize, linkerr.ErrInvalidArg)
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(h.Type)
	buf[1] = byte(h.Flags)
	binary.LittleEndian.PutUint16(buf[2:4], h.StreamID)
	binary.LittleEndian.PutUint16(buf[4:6], h.Port)
	binary.LittleEndian.PutUint32(buf[6:10], h.Sequence)
	binary.LittleEndian.PutUint32(buf[10:14], h.AckedSequence)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(payload)))

	headerCRC := crc16(buf[:headerCRCCoverage])
	binary.LittleEndian.PutUint16(buf[16:18], headerCRC)

	payloadCRC := crc16(payload)
	binary.LittleEndian.PutUint16(buf[18:20], payloadCRC)

	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a wire frame produced by Encode, verifying both CRCs.
// header_crc is checked first since a corrupt header makes the declared
// payload length untrustworthy.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("protocol: frame of %d bytes shorter than header: %w", len(buf), linkerr.ErrInvalidArg)
	}

	var h Header
	h.Type = PacketType(buf[0])
	h.Flags = Flags(buf[1])
	h.StreamID = binary.LittleEndian.Uint16(buf[2:4])
	h.Port = binary.LittleEndian.Uint16(buf[4:6])
	h.Sequence = binary.LittleEndian.Uint32(buf[6:10])
	h.AckedSequence = binary.LittleEndian.Uint32(buf[10:14])
	h.PayloadLength = binary.LittleEndian.Uint16(buf[14:16])
	h.HeaderCRC = binary.LittleEndian.Uint16(buf[16:18])
	h.PayloadCRC = binary.LittleEndian.Uint16(buf[18:20])

	if computed := crc16(buf[:headerCRCCoverage]); computed != h.HeaderCRC {
		return Header{}, nil, fmt.Errorf("protocol: header crc mismatch (got %#04x, want %#04x): %w", h.HeaderCRC, computed, linkerr.ErrCRC)
	}

	if int(HeaderSize)+int(h.PayloadLength) != len(buf) {
		return Header{}, nil, fmt.Errorf("protocol: declared payload length %d does not match frame of %d bytes: %w", h.PayloadLength, len(buf), linkerr.ErrInvalidArg)
	}

	payload := buf[HeaderSize:]
	if computed := crc16(payload); computed != h.PayloadCRC {
		return Header{}, nil, fmt.Errorf("protocol: payload crc mismatch (got %#04x, want %#04x): %w", h.PayloadCRC, computed, linkerr.ErrCRC)
	}

	return h, payload, nil
}
