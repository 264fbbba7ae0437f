package lldp

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func portIDValue(port uint32) []byte {
	v := make([]byte, 5)
	binary.BigEndian.PutUint32(v[1:], port)
	return v
}

func TestParseRecognizedTypes(t *testing.T) {
	chain := []TLV{
		{Type: TypeChassisID, Value: []byte{4, 1, 2, 3, 4, 5, 6}},
		{Type: TypePortID, Value: portIDValue(3)},
		{Type: TypeTTL, Value: []byte{0, 120}},
		{Type: TypeSystemName, Value: []byte("SAVI-SDN;" + string(make([]byte, 32)) + ";0")},
	}
	buf := Encode(chain)

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != len(chain) {
		t.Fatalf("Parse() = %d TLVs, want %d", len(got), len(chain))
	}
	for i := range chain {
		if got[i].Type != chain[i].Type || !bytes.Equal(got[i].Value, chain[i].Value) {
			t.Errorf("TLV %d = %+v, want %+v", i, got[i], chain[i])
		}
	}
}

func TestParseStopsAtEnd(t *testing.T) {
	buf := Encode([]TLV{{Type: TypeTTL, Value: []byte{0, 1}}})
	// Append garbage after the implicit End TLV; Parse must not read it.
	buf = append(buf, 0xff, 0xff, 0xff)

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Parse() = %d TLVs, want 1", len(got))
	}
}

func TestParseTruncatedLength(t *testing.T) {
	// Declares a 10-byte value but supplies none.
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(TypeChassisID)<<9|10)
	_, err := Parse(buf)
	if err != ErrMalformedTLV {
		t.Errorf("Parse() error = %v, want ErrMalformedTLV", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	chain := []TLV{
		{Type: TypeChassisID, Value: []byte{4, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}},
		{Type: TypePortID, Value: portIDValue(0xff00)},
		{Type: TypeTTL, Value: []byte{0, 120}},
		{Type: TypeSystemName, Value: []byte("SAVI-SDN;somepacketid;0")},
	}
	buf := Encode(chain)
	decoded, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	roundTripped := Encode(decoded)
	if !bytes.Equal(buf, roundTripped) {
		t.Errorf("Encode(Parse(buf)) != buf")
	}
}

func TestDecodePortID(t *testing.T) {
	got, err := DecodePortID(portIDValue(0xff00))
	if err != nil {
		t.Fatalf("DecodePortID() error = %v", err)
	}
	if got != 0xff00 {
		t.Errorf("DecodePortID() = %#x, want 0xff00", got)
	}
}

func TestDecodePortIDTooShort(t *testing.T) {
	_, err := DecodePortID([]byte{0, 1, 2})
	if err != ErrMalformedTLV {
		t.Errorf("DecodePortID() error = %v, want ErrMalformedTLV", err)
	}
}
