// Package correlator implements the LLDP probe correlator: the stateful
// request/reply matcher that turns a stream of timestamped Ethernet
// frames carrying SAVI-SDN LLDP probes into EchoRTT, PktInRTT and
// LinkLat samples. It is a standalone, synchronously invoked component
// so the capture loop stays a thin adapter.
package correlator

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/m-lab/go/logx"

	"github.com/t-lin/ofsniff/endpoint"
	"github.com/t-lin/ofsniff/latency"
	"github.com/t-lin/ofsniff/lldp"
	"github.com/t-lin/ofsniff/metrics"
	"github.com/t-lin/ofsniff/openflow"
	"github.com/t-lin/ofsniff/statslog"
)

// packetIDLen is the fixed width, in bytes, of a PacketId embedded in a
// SYSTEM_NAME TLV between its first and last semicolons.
const packetIDLen = 32

// systemNamePrefix identifies a SAVI-SDN probe; any other SYSTEM_NAME
// value is not one of ours and the event is dropped as MalformedProbe.
const systemNamePrefix = "SAVI-SDN"

// lldpEtherType and lldpDestMAC are the acceptance predicate for an
// LLDP probe frame: any frame not matching both is silently ignored.
const lldpEtherType = 0x88CC

var lldpDestMAC = []byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x0E}

// rare is a sparse logger for per-event debug noise: malformed TLV chains
// and malformed probes must not flood the log. Unmatched pongs are normal
// at steady state and are counted but not logged.
var rare = logx.NewLogEvery(nil, 5*time.Second)

// Correlator owns no state of its own beyond a reference to the shared
// endpoint latency store; it is safe to invoke concurrently only to the
// extent Store.* operations are (see store's per-endpoint RWMutex). The
// capture loop invokes it from a single goroutine, so the correlator
// itself is single-threaded.
type Correlator struct {
	store *latency.Store
	log   *statslog.Writer // nil disables persisted stats logging
}

// New returns a Correlator backed by store. log may be nil.
func New(store *latency.Store, log *statslog.Writer) *Correlator {
	return &Correlator{store: store, log: log}
}

// probe is the decoded content of one SAVI-SDN LLDP frame.
type probe struct {
	packetID string
	rtt      float64 // dp2ctrlRTT carried in SYSTEM_NAME; 0 means ping
	portNo   uint32
}

// Handle classifies one LLDP-carrying OpenFlow event and updates the
// latency store accordingly. ts is the event's capture timestamp, ep is
// the switch-side endpoint of the TCP flow the frame arrived on, frame
// is the raw inner Ethernet frame carried by the PacketIn/PacketOut, and
// isPacketIn is true for switch-to-controller (PacketIn) events.
func (c *Correlator) Handle(ts time.Time, ep endpoint.ID, frame []byte, isPacketIn bool) {
	tlvs, ok := c.decode(frame)
	if !ok {
		return
	}

	p, ok := c.parseProbe(tlvs)
	if !ok {
		return
	}

	isPing := p.rtt == 0

	switch {
	case isPacketIn && isPing && p.portNo == openflow.OFPPMax:
		c.scenarioEchoMatch(ts, ep, p)
	case isPacketIn && isPing:
		c.scenarioLinkRecord(ts, ep, p)
	case isPacketIn && !isPing:
		c.scenarioLinkPong(ts, ep, p)
	case !isPacketIn && isPing:
		c.scenarioLinkPing(ts, ep, p)
	case !isPacketIn && !isPing:
		c.scenarioPktInMatch(ts, ep, p)
	}
}

// decode parses the Ethernet header and, if it passes the LLDP
// acceptance predicate, the LLDP payload's TLV chain.
func (c *Correlator) decode(frame []byte) ([]lldp.TLV, bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonNotLLDP).Inc()
		return nil, false
	}
	eth := ethLayer.(*layers.Ethernet)

	if uint16(eth.EthernetType) != lldpEtherType {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonNotLLDP).Inc()
		return nil, false
	}
	if !bytes.Equal([]byte(eth.DstMAC), lldpDestMAC) {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonWrongDestMAC).Inc()
		return nil, false
	}

	tlvs, err := lldp.Parse(eth.Payload)
	if err != nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformedTLV).Inc()
		rare.Printf("correlator: malformed TLV chain: %v", err)
		return nil, false
	}
	return tlvs, true
}

// parseProbe extracts the PacketId, dp2ctrlRTT and port number from a
// decoded TLV chain.
func (c *Correlator) parseProbe(tlvs []lldp.TLV) (probe, bool) {
	var (
		p       probe
		gotName bool
		gotPort bool
	)

	for _, t := range tlvs {
		switch t.Type {
		case lldp.TypeSystemName:
			id, rtt, ok := parseSystemName(t.Value)
			if !ok {
				metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformedProbe).Inc()
				rare.Printf("correlator: malformed SYSTEM_NAME %q", t.Value)
				return probe{}, false
			}
			p.packetID, p.rtt = id, rtt
			gotName = true
		case lldp.TypePortID:
			port, err := lldp.DecodePortID(t.Value)
			if err != nil {
				metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformedProbe).Inc()
				rare.Printf("correlator: malformed PORT_ID: %v", err)
				return probe{}, false
			}
			p.portNo = port
			gotPort = true
		}
	}

	if !gotName || !gotPort {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonMalformedProbe).Inc()
		rare.Printf("correlator: probe lacks a SYSTEM_NAME or PORT_ID TLV")
		return probe{}, false
	}
	return p, true
}

// parseSystemName decodes a SYSTEM_NAME TLV value of the form
// "SAVI-SDN<anything>;<packetid-32-bytes>;<decimal-dp2ctrl-rtt>".
func parseSystemName(value []byte) (packetID string, rtt float64, ok bool) {
	s := string(value)
	if len(s) < len(systemNamePrefix) || s[:len(systemNamePrefix)] != systemNamePrefix {
		return "", 0, false
	}

	first := strings.IndexByte(s, ';')
	last := strings.LastIndexByte(s, ';')
	if first < 0 || last < 0 || first == last {
		return "", 0, false
	}

	if last-first-1 != packetIDLen {
		return "", 0, false
	}
	id := s[first+1 : last]

	rttStr := s[last+1:]
	r, err := strconv.ParseFloat(rttStr, 64)
	if err != nil {
		return "", 0, false
	}

	return id, r, true
}

// scenarioEchoMatch handles Scenario 1a: a PacketIn ping on the Echo
// sentinel port, matched against an outstanding probe recorded when the
// corresponding PacketOut ping was emitted.
func (c *Correlator) scenarioEchoMatch(ts time.Time, ep endpoint.ID, p probe) {
	seenAt, ok := c.store.Consume(ep, p.portNo, p.packetID)
	if !ok {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonUnmatchedProbe).Inc()
		return
	}
	sample := msSince(seenAt, ts)
	c.store.UpdateEchoRTT(ep, sample)
	c.record(ep, "EchoRTT", sample, c.store.EchoAvg(ep), c.store.EchoVar(ep))
}

// scenarioLinkRecord handles Scenario 1b: a PacketIn ping on a real
// egress port, recorded as outstanding pending its pong.
func (c *Correlator) scenarioLinkRecord(ts time.Time, ep endpoint.ID, p probe) {
	c.store.Record(ep, p.portNo, p.packetID, latency.Timestamp(tsMillis(ts)))
}

// scenarioLinkPong handles Scenario 2: a PacketIn pong completing a link
// latency measurement initiated by a PacketOut ping at the remote
// endpoint.
func (c *Correlator) scenarioLinkPong(ts time.Time, ep endpoint.ID, p probe) {
	seenAt, ok := c.store.Consume(ep, p.portNo, p.packetID)
	if !ok {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonUnmatchedProbe).Inc()
		return
	}
	rtt := msSince(seenAt, ts)
	est := rtt - c.store.EchoMed(ep) - p.rtt
	if est < 0 {
		est = 0
	}
	c.store.UpdateLinkLat(ep, p.portNo, est)
	c.record(ep, linkMetricName(p.portNo), est,
		c.store.LinkAvg(ep, p.portNo), c.store.LinkVar(ep, p.portNo))
}

// scenarioLinkPing handles Scenario 3: a PacketOut ping leaving the
// controller toward ep, recorded as outstanding pending the remote
// endpoint's pong.
func (c *Correlator) scenarioLinkPing(ts time.Time, ep endpoint.ID, p probe) {
	c.store.Record(ep, p.portNo, p.packetID, latency.Timestamp(tsMillis(ts)))
}

// scenarioPktInMatch handles Scenario 4: a PacketOut pong completing the
// controller's processing-latency measurement for a PacketIn ping it saw
// earlier.
func (c *Correlator) scenarioPktInMatch(ts time.Time, ep endpoint.ID, p probe) {
	seenAt, ok := c.store.Consume(ep, p.portNo, p.packetID)
	if !ok {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonUnmatchedProbe).Inc()
		return
	}
	sample := msSince(seenAt, ts)
	c.store.UpdatePktInRTT(ep, sample)
	c.record(ep, "PktInRTT", sample, c.store.PktInAvg(ep), c.store.PktInVar(ep))
}

func linkMetricName(port uint32) string {
	return "LinkLatRTT-Port" + strconv.FormatUint(uint64(port), 10)
}

func tsMillis(ts time.Time) float64 {
	return float64(ts.UnixNano()) / 1e6
}

func msSince(seenAt latency.Timestamp, ts time.Time) float64 {
	return tsMillis(ts) - float64(seenAt)
}

// record feeds a computed sample into the Prometheus metrics and, if
// enabled, the persisted stats log.
func (c *Correlator) record(ep endpoint.ID, metric string, raw, avg, vr float64) {
	metrics.SamplesTotal.WithLabelValues(ep.String(), metric).Inc()
	metrics.SampleHistogram.WithLabelValues(metric).Observe(raw)
	if c.log != nil {
		c.log.Write(ep, metric, raw, avg, vr)
	}
}
