// Package lldp decodes the TLV chain carried in an LLDP Ethernet frame.
//
// The wire format is a sequence of Type-Length-Value records:
//
//	---------------------------------------------
//	| 7 bits type | 9 bits length | n bytes data |
//	---------------------------------------------
//
// terminated by a TLV with type 0 or length 0. This package exposes the
// chain as a lazy pull-iterator over the caller's byte slice rather than
// an owned graph of nodes; a finite sequence over the existing buffer
// needs no heap-allocated linked list.
package lldp

import (
	"encoding/binary"
	"errors"
)

// Type is an LLDP TLV type code.
type Type uint8

// TLV types used by the correlator. Others are decoded but otherwise
// ignored.
const (
	TypeEnd        Type = 0
	TypeChassisID  Type = 1
	TypePortID     Type = 2
	TypeTTL        Type = 3
	TypePortDesc   Type = 4
	TypeSystemName Type = 5
	TypeSystemDesc Type = 6
	TypeSystemCap  Type = 7
	TypeMgmtAddr   Type = 8
)

// ErrMalformedTLV is returned when a TLV's declared length runs past the
// end of the supplied buffer.
var ErrMalformedTLV = errors.New("lldp: malformed TLV (length exceeds buffer)")

// TLV is one decoded type/length/value record.
type TLV struct {
	Type  Type
	Value []byte
}

// Next pulls one TLV off the front of buf, returning the TLV, the
// remaining buffer, and whether the chain has more TLVs to read (false
// once an End TLV is reached: type==0 or length==0).
func Next(buf []byte) (tlv TLV, rest []byte, more bool, err error) {
	if len(buf) < 2 {
		return TLV{}, nil, false, ErrMalformedTLV
	}
	header := binary.BigEndian.Uint16(buf)
	typ := Type(header >> 9)
	length := int(header & 0x01ff)
	if len(buf) < 2+length {
		return TLV{}, nil, false, ErrMalformedTLV
	}
	tlv = TLV{Type: typ, Value: buf[2 : 2+length]}
	rest = buf[2+length:]
	more = typ != TypeEnd && length != 0
	return tlv, rest, more, nil
}

// Parse walks buf and returns every TLV up to (not including) the
// terminating End TLV. It is the non-lazy convenience form of Next.
func Parse(buf []byte) ([]TLV, error) {
	var tlvs []TLV
	for {
		tlv, rest, more, err := Next(buf)
		if err != nil {
			return nil, err
		}
		if !more {
			return tlvs, nil
		}
		tlvs = append(tlvs, tlv)
		buf = rest
	}
}

// Encode renders a TLV chain back to wire format, appending a zero-length
// End TLV. It is the inverse of Parse for well-formed chains and exists
// primarily to support round-trip tests.
func Encode(tlvs []TLV) []byte {
	var out []byte
	for _, t := range tlvs {
		out = append(out, encodeOne(t.Type, t.Value)...)
	}
	out = append(out, encodeOne(TypeEnd, nil)...)
	return out
}

func encodeOne(typ Type, value []byte) []byte {
	header := uint16(typ)<<9 | uint16(len(value)&0x01ff)
	buf := make([]byte, 2+len(value))
	binary.BigEndian.PutUint16(buf, header)
	copy(buf[2:], value)
	return buf
}

// PortIDSubtypePort is the PORT_ID TLV subtype used by the SAVI-SDN LLDP
// probe format: one subtype byte followed by a 4-byte port number in
// network byte order.
const PortIDSubtypePort = 0

// DecodePortID extracts the 32-bit (host-order) port number from a
// PORT_ID TLV value. It assumes the 1-byte-subtype + 4-byte-port layout
// the probe format requires; the subtype itself is not validated because
// the correlator only consumes SAVI-SDN-generated probes.
func DecodePortID(value []byte) (portNo uint32, err error) {
	if len(value) < 5 {
		return 0, ErrMalformedTLV
	}
	return binary.BigEndian.Uint32(value[1:5]), nil
}
