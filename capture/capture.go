// Package capture implements the capture loop: it pulls frames from an
// upstream packet source, filters and classifies them by control-channel
// direction, and dispatches LLDP-carrying PacketIn/PacketOut frames to
// the probe correlator. The live source is one pcap handle with a reader
// goroutine feeding a buffered channel, shut down cooperatively via
// context cancellation.
package capture

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/m-lab/go/logx"

	"github.com/t-lin/ofsniff/correlator"
	"github.com/t-lin/ofsniff/endpoint"
	"github.com/t-lin/ofsniff/metrics"
	"github.com/t-lin/ofsniff/openflow"
)

const snapLen = 1500

var rare = logx.NewLogEvery(nil, 5*time.Second)

// RawPacket is one timestamped frame pulled off the wire, as delivered by
// a Source.
type RawPacket struct {
	Timestamp time.Time
	Data      []byte
}

// Source is the upstream packet iterator the capture loop consumes: a
// lazy sequence of timestamped frames, live or pre-recorded.
type Source interface {
	// Packets returns a channel of captured frames. The channel is closed
	// when the source is exhausted or ctx is canceled.
	Packets(ctx context.Context) (<-chan RawPacket, error)
	// Close releases any resources held by the source.
	Close() error
}

// PcapSource is a Source backed by a live libpcap capture on one network
// interface, filtered to TCP traffic on the OpenFlow control port.
type PcapSource struct {
	handle *pcap.Handle
}

// NewPcapSource opens a live capture on iface, filtered to
// "tcp port <ofpPort>", with promiscuous mode off, a 1500-byte snap
// length and immediate (non-buffered) delivery.
func NewPcapSource(iface string, ofpPort uint16) (*PcapSource, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("capture: opening %s: %w", iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return nil, fmt.Errorf("capture: set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(false); err != nil {
		return nil, fmt.Errorf("capture: set promisc: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("capture: set immediate mode: %w", err)
	}
	if err := inactive.SetTimeout(pcap.BlockForever); err != nil {
		return nil, fmt.Errorf("capture: set timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: activate %s: %w", iface, err)
	}

	filter := fmt.Sprintf("tcp port %d", ofpPort)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("capture: set BPF filter %q: %w", filter, err)
	}

	return &PcapSource{handle: handle}, nil
}

// Packets starts a reader goroutine over the pcap handle and returns the
// channel it feeds.
func (p *PcapSource) Packets(ctx context.Context) (<-chan RawPacket, error) {
	out := make(chan RawPacket, 64)
	src := gopacket.NewPacketSource(p.handle, layers.LayerTypeEthernet)
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	go func() {
		defer close(out)
		for {
			pkt, err := src.NextPacket()
			if err != nil {
				if err == pcap.NextErrorTimeoutExpired {
					continue
				}
				rare.Logf("capture: reader exiting: %v", err)
				return
			}
			select {
			case out <- RawPacket{Timestamp: pkt.Metadata().Timestamp, Data: pkt.Data()}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases the underlying pcap handle.
func (p *PcapSource) Close() error {
	p.handle.Close()
	return nil
}

// Loop pulls frames from src, filters and classifies them by
// control-channel direction, and dispatches LLDP-carrying
// PacketIn/PacketOut frames to corr. It returns when ctx is canceled or
// src's channel closes.
func Loop(ctx context.Context, src Source, ofpPort uint16, corr *correlator.Correlator) error {
	packets, err := src.Packets(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-packets:
			if !ok {
				return nil
			}
			dispatch(raw, ofpPort, corr)
		}
	}
}

// dispatch classifies one captured frame and, if it carries an
// LLDP-bearing PacketIn/PacketOut, routes it to corr.
func dispatch(raw RawPacket, ofpPort uint16, corr *correlator.Correlator) {
	pkt := gopacket.NewPacket(raw.Data, layers.LayerTypeEthernet, gopacket.NoCopy)

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonNotIPv4).Inc()
		return
	}
	ip := ipLayer.(*layers.IPv4)
	if ip.Flags&layers.IPv4MoreFragments != 0 {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonFragmented).Inc()
		return
	}

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonNotTCP).Inc()
		return
	}
	tcp := tcpLayer.(*layers.TCP)

	// is_packet_in names which side of the flow looks like the
	// controller's listening port, not the OF message type actually
	// carried (the framer below determines that). The switch-side
	// endpoint is always the peer of the ofp_port side: dst when
	// src_port==ofp_port, src otherwise.
	isPacketIn := uint16(tcp.SrcPort) == ofpPort
	var ep endpoint.ID
	if isPacketIn {
		ep = endpoint.New(ipToV4(ip.DstIP), uint16(tcp.DstPort))
	} else {
		ep = endpoint.New(ipToV4(ip.SrcIP), uint16(tcp.SrcPort))
	}

	msg, err := openflow.Parse(tcp.Payload)
	if err != nil {
		metrics.DropsTotal.WithLabelValues(metrics.ReasonFramerError).Inc()
		rare.Logf("capture: openflow parse error: %v", err)
		return
	}

	switch m := msg.(type) {
	case openflow.PacketIn:
		metrics.PacketsTotal.WithLabelValues("packet_in").Inc()
		corr.Handle(raw.Timestamp, ep, m.Data, true)
	case openflow.PacketOut:
		metrics.PacketsTotal.WithLabelValues("packet_out").Inc()
		if m.Data == nil {
			// buffer_id != OFP_NO_BUFFER: no inner frame present, skip.
			return
		}
		corr.Handle(raw.Timestamp, ep, m.Data, false)
	}
}

// SliceSource is an in-memory Source over a fixed slice of packets, used
// by tests and embedding scenarios that already have captured frames
// rather than a live interface.
type SliceSource struct {
	Frames []RawPacket
}

// Packets returns a channel pre-loaded with s.Frames, closed once they
// have all been delivered or ctx is canceled.
func (s *SliceSource) Packets(ctx context.Context) (<-chan RawPacket, error) {
	out := make(chan RawPacket, len(s.Frames))
	go func() {
		defer close(out)
		for _, f := range s.Frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op for SliceSource.
func (s *SliceSource) Close() error { return nil }

func ipToV4(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
