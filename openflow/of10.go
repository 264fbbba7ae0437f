// Package openflow recognizes and peels OpenFlow 1.0 control messages off
// a raw TCP-payload buffer. It implements only the subset of OF 1.0 the
// latency correlator needs: PACKET_IN, PACKET_OUT, ECHO_REQUEST and
// ECHO_REPLY. Everything else decodes to an Other message carrying just
// the header's type, falling through the way an unimplemented message
// type would get an "Unknown" log line rather than a parse error.
package openflow

import (
	"encoding/binary"
	"errors"
)

// Message type codes, from the OpenFlow 1.0 wire protocol.
const (
	TypeHello               = 0
	TypeError               = 1
	TypeEchoRequest         = 2
	TypeEchoReply           = 3
	TypeVendor              = 4
	TypeFeaturesRequest     = 5
	TypeFeaturesReply       = 6
	TypeGetConfigRequest    = 7
	TypeGetConfigReply      = 8
	TypeSetConfig           = 9
	TypePacketIn            = 10
	TypeFlowRemoved         = 11
	TypePortStatus          = 12
	TypePacketOut           = 13
	TypeFlowMod             = 14
	TypePortMod             = 15
	TypeStatsRequest        = 16
	TypeStatsReply          = 17
	TypeBarrierRequest      = 18
	TypeBarrierReply        = 19
	TypeQueueGetConfigReq   = 20
	TypeQueueGetConfigReply = 21
)

// OFPPMax is the reserved OpenFlow 1.0 port value repurposed by the
// SAVI-SDN LLDP probe format as a sentinel marking an Echo-measurement
// probe. It is nominally a 16-bit port value, but the PORT_ID TLV it
// travels in carries a 32-bit host-order port; callers compare a decoded
// port_no against OFPPMax directly (the high 16 bits are simply zero),
// never truncating to 16 bits first.
const OFPPMax = 0xff00

// OFPNoBuffer is the buffer_id value meaning "the inner frame is present
// in this PacketOut message" (as opposed to being held in a switch-side
// buffer referenced by ID).
const OFPNoBuffer = 0xffffffff

const headerSize = 8

// Errors returned by Parse.
var (
	ErrTruncatedMessage   = errors.New("openflow: message length exceeds buffer")
	ErrUnsupportedVersion = errors.New("openflow: unsupported OpenFlow version")
	ErrHeaderTooShort     = errors.New("openflow: buffer shorter than OF header")
)

// Version is the OpenFlow wire version this package understands.
const Version = 1

// Header is the common 8-byte OpenFlow message header.
type Header struct {
	Version uint8
	Type    uint8
	Length  uint16
	XID     uint32
}

// Message is implemented by every decoded OF message type this package
// produces.
type Message interface {
	Header() Header
}

// PacketIn models an OFPT_PACKET_IN message's fields relevant to LLDP
// probe correlation.
type PacketIn struct {
	Hdr      Header
	BufferID uint32
	TotalLen uint16
	InPort   uint16
	Reason   uint8
	Data     []byte
}

// Header implements Message.
func (p PacketIn) Header() Header { return p.Hdr }

// PacketOut models an OFPT_PACKET_OUT message's fields relevant to LLDP
// probe correlation. Data is populated only when BufferID==OFPNoBuffer;
// otherwise it is nil and the caller must skip the probe, since a
// switch-buffered frame carries no inline data to decode.
type PacketOut struct {
	Hdr        Header
	BufferID   uint32
	InPort     uint16
	ActionsLen uint16
	Actions    []byte
	Data       []byte
}

// Header implements Message.
func (p PacketOut) Header() Header { return p.Hdr }

// EchoRequest models an OFPT_ECHO_REQUEST message.
type EchoRequest struct {
	Hdr  Header
	Data []byte
}

// Header implements Message.
func (e EchoRequest) Header() Header { return e.Hdr }

// EchoReply models an OFPT_ECHO_REPLY message.
type EchoReply struct {
	Hdr  Header
	Data []byte
}

// Header implements Message.
func (e EchoReply) Header() Header { return e.Hdr }

// Other is returned for any OF message type this package doesn't model
// in detail (FLOW_MOD, STATS_*, ...). The capture loop and correlator
// ignore it.
type Other struct {
	Hdr Header
}

// Header implements Message.
func (o Other) Header() Header { return o.Hdr }

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, ErrHeaderTooShort
	}
	h := Header{
		Version: buf[0],
		Type:    buf[1],
		Length:  binary.BigEndian.Uint16(buf[2:4]),
		XID:     binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	if int(h.Length) < headerSize || int(h.Length) > len(buf) {
		return Header{}, ErrTruncatedMessage
	}
	return h, nil
}

// Parse reads the OF header at the start of buf (assumed to be a single
// TCP-payload buffer beginning at a message boundary) and decodes the
// body according to the header's message type.
func Parse(buf []byte) (Message, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	body := buf[headerSize:h.Length]

	switch h.Type {
	case TypePacketIn:
		return parsePacketIn(h, body)
	case TypePacketOut:
		return parsePacketOut(h, body)
	case TypeEchoRequest:
		return EchoRequest{Hdr: h, Data: body}, nil
	case TypeEchoReply:
		return EchoReply{Hdr: h, Data: body}, nil
	default:
		return Other{Hdr: h}, nil
	}
}

// PacketIn body layout (OpenFlow 1.0 §5.4.1):
//
//	buffer_id(4) total_len(2) in_port(2) reason(1) pad(1) data...
const packetInFixedLen = 10

func parsePacketIn(h Header, body []byte) (Message, error) {
	if len(body) < packetInFixedLen {
		return nil, ErrTruncatedMessage
	}
	return PacketIn{
		Hdr:      h,
		BufferID: binary.BigEndian.Uint32(body[0:4]),
		TotalLen: binary.BigEndian.Uint16(body[4:6]),
		InPort:   binary.BigEndian.Uint16(body[6:8]),
		Reason:   body[8],
		Data:     body[packetInFixedLen:],
	}, nil
}

// PacketOut body layout (OpenFlow 1.0 §5.3.3):
//
//	buffer_id(4) in_port(2) actions_len(2) actions... data...
const packetOutFixedLen = 8

func parsePacketOut(h Header, body []byte) (Message, error) {
	if len(body) < packetOutFixedLen {
		return nil, ErrTruncatedMessage
	}
	bufferID := binary.BigEndian.Uint32(body[0:4])
	inPort := binary.BigEndian.Uint16(body[4:6])
	actionsLen := binary.BigEndian.Uint16(body[6:8])
	if packetOutFixedLen+int(actionsLen) > len(body) {
		return nil, ErrTruncatedMessage
	}
	actions := body[packetOutFixedLen : packetOutFixedLen+int(actionsLen)]

	var data []byte
	if bufferID == OFPNoBuffer {
		data = body[packetOutFixedLen+int(actionsLen):]
	}

	return PacketOut{
		Hdr:        h,
		BufferID:   bufferID,
		InPort:     inPort,
		ActionsLen: actionsLen,
		Actions:    actions,
		Data:       data,
	}, nil
}
