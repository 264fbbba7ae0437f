// Package latency implements the per-endpoint latency store: outstanding
// probe tracking plus the three running-statistics streams (EchoRTT,
// PktInRTT, LinkLat) kept for every switch endpoint observed on the
// control channel. Each endpoint's state carries its own coarse RWMutex,
// so the capture goroutine and any reader goroutines contend across
// endpoints only for the brief lookup in the store-wide endpoint map.
package latency

import (
	"sync"

	"github.com/t-lin/ofsniff/endpoint"
	"github.com/t-lin/ofsniff/metrics"
	"github.com/t-lin/ofsniff/stats"
)

// MaxOutstandingPkts bounds the number of outstanding probe IDs tracked
// per (endpoint, port); insertion past this bound evicts the oldest ID
// from both the port queue and the packet-seen map.
const MaxOutstandingPkts = 20

// linkLatState bundles a link-latency stream with its EMA pre-filter.
type linkLatState struct {
	ema    stats.EMA
	stream *stats.Stream
}

// endpointState is the per-endpoint LatencyMetadata: the packet-seen map,
// per-port outstanding-ID queues, and the three statistics streams.
type endpointState struct {
	mu sync.RWMutex

	seen        map[string]Timestamp
	outstanding map[uint32][]string // port -> FIFO of packet IDs

	echo  *stats.Stream
	pktIn *stats.Stream
	link  map[uint32]*linkLatState
}

func newEndpointState() *endpointState {
	return &endpointState{
		seen:        make(map[string]Timestamp),
		outstanding: make(map[uint32][]string),
		echo:        stats.NewStream(stats.EchoRTTWindow),
		pktIn:       stats.NewStream(stats.PktInRTTWindow),
		link:        make(map[uint32]*linkLatState),
	}
}

func (e *endpointState) linkState(port uint32) *linkLatState {
	ls, ok := e.link[port]
	if !ok {
		ls = &linkLatState{stream: stats.NewStream(stats.LinkLatWindow)}
		e.link[port] = ls
	}
	return ls
}

// Timestamp is the millisecond-resolution instant a probe was observed,
// as a plain float64 so latency samples fall out of a single subtraction.
type Timestamp float64

// Store is the endpoint latency store: per-endpoint outstanding-probe
// tables and running statistics, created lazily on first touch and never
// destroyed for the lifetime of the process.
type Store struct {
	mu        sync.Mutex // guards the endpoints map itself, not its values
	endpoints map[endpoint.ID]*endpointState
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{endpoints: make(map[endpoint.ID]*endpointState)}
}

// state returns (lazily creating) the state for ep.
func (s *Store) state(ep endpoint.ID) *endpointState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.endpoints[ep]
	if !ok {
		st = newEndpointState()
		s.endpoints[ep] = st
		metrics.EndpointsActive.Set(float64(len(s.endpoints)))
	}
	return st
}

// Seen reports whether pid is recorded in ep's packet-seen map, and if so
// the timestamp it was first observed at.
func (s *Store) Seen(ep endpoint.ID, pid string) (Timestamp, bool) {
	st := s.state(ep)
	st.mu.RLock()
	defer st.mu.RUnlock()
	ts, ok := st.seen[pid]
	return ts, ok
}

// Record marks pid as seen at ts and adds it to port's outstanding queue,
// evicting the oldest outstanding ID (from both the queue and the
// packet-seen map) if the queue would exceed MaxOutstandingPkts.
func (s *Store) Record(ep endpoint.ID, port uint32, pid string, ts Timestamp) {
	st := s.state(ep)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.seen[pid] = ts
	q := append(st.outstanding[port], pid)
	if len(q) > MaxOutstandingPkts {
		evicted := q[0]
		q = q[1:]
		delete(st.seen, evicted)
		metrics.OutstandingEvictionsTotal.WithLabelValues(ep.String()).Inc()
	}
	st.outstanding[port] = q
}

// Consume removes pid from ep's packet-seen map and port's outstanding
// queue, returning the timestamp it was recorded at. The bool result is
// false if pid was not outstanding (an unmatched probe).
func (s *Store) Consume(ep endpoint.ID, port uint32, pid string) (Timestamp, bool) {
	st := s.state(ep)
	st.mu.Lock()
	defer st.mu.Unlock()

	ts, ok := st.seen[pid]
	if !ok {
		return 0, false
	}
	delete(st.seen, pid)
	removeFirst(st.outstanding, port, pid)
	return ts, true
}

func removeFirst(outstanding map[uint32][]string, port uint32, pid string) {
	q := outstanding[port]
	for i, id := range q {
		if id == pid {
			outstanding[port] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// UpdateEchoRTT pushes sample into ep's EchoRTT stream.
func (s *Store) UpdateEchoRTT(ep endpoint.ID, sample float64) {
	st := s.state(ep)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.echo.Push(sample)
}

// UpdatePktInRTT pushes sample into ep's PktInRTT stream.
func (s *Store) UpdatePktInRTT(ep endpoint.ID, sample float64) {
	st := s.state(ep)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pktIn.Push(sample)
}

// UpdateLinkLat applies the EMA pre-filter to rawSample and pushes the
// smoothed value into ep's per-port LinkLat stream, returning the
// smoothed value actually recorded (for logging/stats-log callers).
func (s *Store) UpdateLinkLat(ep endpoint.ID, port uint32, rawSample float64) float64 {
	st := s.state(ep)
	st.mu.Lock()
	defer st.mu.Unlock()
	ls := st.linkState(port)
	smoothed := ls.ema.Push(rawSample)
	ls.stream.Push(smoothed)
	return smoothed
}

// EchoAvg, EchoVar, EchoMed return ep's EchoRTT running statistics.
// Unknown endpoints return 0 (and are lazily created), simplifying
// callers that query an endpoint before its first probe.
func (s *Store) EchoAvg(ep endpoint.ID) float64 { return s.readEcho(ep).Avg() }
func (s *Store) EchoVar(ep endpoint.ID) float64 { return s.readEcho(ep).Var() }
func (s *Store) EchoMed(ep endpoint.ID) float64 { return s.readEcho(ep).Med() }

func (s *Store) readEcho(ep endpoint.ID) snapshot {
	st := s.state(ep)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return snapshot{st.echo.Avg(), st.echo.Var(), st.echo.Med()}
}

// PktInAvg, PktInVar, PktInMed return ep's PktInRTT running statistics.
func (s *Store) PktInAvg(ep endpoint.ID) float64 { return s.readPktIn(ep).Avg() }
func (s *Store) PktInVar(ep endpoint.ID) float64 { return s.readPktIn(ep).Var() }
func (s *Store) PktInMed(ep endpoint.ID) float64 { return s.readPktIn(ep).Med() }

func (s *Store) readPktIn(ep endpoint.ID) snapshot {
	st := s.state(ep)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return snapshot{st.pktIn.Avg(), st.pktIn.Var(), st.pktIn.Med()}
}

// LinkAvg, LinkVar, LinkMed return ep's per-port LinkLat running
// statistics.
func (s *Store) LinkAvg(ep endpoint.ID, port uint32) float64 { return s.readLink(ep, port).Avg() }
func (s *Store) LinkVar(ep endpoint.ID, port uint32) float64 { return s.readLink(ep, port).Var() }
func (s *Store) LinkMed(ep endpoint.ID, port uint32) float64 { return s.readLink(ep, port).Med() }

func (s *Store) readLink(ep endpoint.ID, port uint32) snapshot {
	st := s.state(ep)
	st.mu.RLock()
	defer st.mu.RUnlock()
	ls, ok := st.link[port]
	if !ok {
		return snapshot{}
	}
	return snapshot{ls.stream.Avg(), ls.stream.Var(), ls.stream.Med()}
}

// DpToCtrlRTT returns echo_med(ep) + pktin_med(ep), the controller-
// perceived round trip to ep used when another endpoint's pong carries
// ep's own dp2ctrlRTT.
func (s *Store) DpToCtrlRTT(ep endpoint.ID) float64 {
	return s.EchoMed(ep) + s.PktInMed(ep)
}

// Endpoints returns every endpoint currently tracked by the store.
func (s *Store) Endpoints() []endpoint.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]endpoint.ID, 0, len(s.endpoints))
	for ep := range s.endpoints {
		out = append(out, ep)
	}
	return out
}

// snapshot is a consistent (avg, var, med) triple read from a single
// Stream under one RLock. Readers that need all three call one of the
// read* helpers above, which take the lock once; callers asking for a
// single field (EchoAvg alone, say) still only ever observe a value that
// existed at some point in the stream's history.
type snapshot struct {
	avg, vr, med float64
}

func (s snapshot) Avg() float64 { return s.avg }
func (s snapshot) Var() float64 { return s.vr }
func (s snapshot) Med() float64 { return s.med }
