package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kkrugley/pinq/internal/codec"
	"github.com/kkrugley/pinq/internal/signaling"
)

const testCode = "ABC234"

func testTimeouts() Timeouts {
	return Timeouts{
		PeerJoin:           2 * time.Second,
		Offer:              2 * time.Second,
		PeerConnect:        2 * time.Second,
		Metadata:           2 * time.Second,
		Idle:               2 * time.Second,
		Send:               2 * time.Second,
		Ack:                500 * time.Millisecond,
		Linger:             50 * time.Millisecond,
		MaxConnectAttempts: 3,
	}
}

// pipeState is shared by both ends of an in-memory channel.
type pipeState struct {
	mu         sync.Mutex
	closed     bool
	dataSent   int
	closeAfter int

	// With track set, binary frames pile up in buffered until drain is
	// called, the way a slow network fills a data channel's send buffer.
	track       bool
	buffered    uint64
	maxBuffered uint64
	threshold   uint64
	onLow       func()
}

// pipeEnd is one side of an in-memory Channel. Frames are copied so the
// sender may reuse its buffer.
type pipeEnd struct {
	events   chan ChannelEvent
	peer     *pipeEnd
	state    *pipeState
	openOnce sync.Once
}

// newPipe connects two ends. When closeAfter is positive the pipe closes
// itself once that many binary frames have gone through.
func newPipe(closeAfter int, track bool) (*pipeEnd, *pipeEnd) {
	st := &pipeState{closeAfter: closeAfter, track: track}
	a := &pipeEnd{events: make(chan ChannelEvent, 1024), state: st}
	b := &pipeEnd{events: make(chan ChannelEvent, 1024), state: st}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) open() {
	p.openOnce.Do(func() { p.events <- ChannelEvent{Kind: ChannelOpen} })
}

func (p *pipeEnd) Events() <-chan ChannelEvent { return p.events }

func (p *pipeEnd) Send(fr codec.Frame) error {
	st := p.state
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return io.ErrClosedPipe
	}
	if !fr.Text {
		st.dataSent++
		if st.track {
			st.buffered += uint64(len(fr.Data))
			st.maxBuffered = max(st.maxBuffered, st.buffered)
		}
	}
	data := append([]byte(nil), fr.Data...)
	p.peer.events <- ChannelEvent{Kind: ChannelMessage, Frame: codec.Frame{Data: data, Text: fr.Text}}
	trip := st.closeAfter > 0 && st.dataSent == st.closeAfter
	if trip {
		p.closeLocked()
	}
	st.mu.Unlock()
	return nil
}

func (p *pipeEnd) BufferedAmount() uint64 {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.buffered
}

func (p *pipeEnd) SetBufferedAmountLowThreshold(th uint64) {
	p.state.mu.Lock()
	p.state.threshold = th
	p.state.mu.Unlock()
}

func (p *pipeEnd) OnBufferedAmountLow(f func()) {
	p.state.mu.Lock()
	p.state.onLow = f
	p.state.mu.Unlock()
}

// drain empties the tracked send buffer and fires the low callback.
func (p *pipeEnd) drain() {
	p.state.mu.Lock()
	p.state.buffered = 0
	onLow := p.state.onLow
	p.state.mu.Unlock()
	if onLow != nil {
		onLow()
	}
}

// stats reports the largest backlog seen and the low threshold in use.
func (p *pipeEnd) stats() (maxBuffered, threshold uint64) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.maxBuffered, p.state.threshold
}

func (p *pipeEnd) Close() error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *pipeEnd) closeLocked() {
	if p.state.closed {
		return
	}
	p.state.closed = true
	for _, end := range []*pipeEnd{p, p.peer} {
		select {
		case end.events <- ChannelEvent{Kind: ChannelClosed}:
		default:
		}
	}
}

type memNegotiator struct {
	end *pipeEnd
}

func (n *memNegotiator) HandleSignal(signaling.SignalPayload) error { return nil }
func (n *memNegotiator) Channel() Channel                          { return n.end }
func (n *memNegotiator) Close() error                              { return n.end.Close() }

// memNet is a Connector whose offers carry the id of a waiting pipe end
// in place of an SDP. Answering opens both ends.
type memNet struct {
	mu         sync.Mutex
	next       int
	pending    map[string]*pipeEnd
	closeAfter int

	// track turns on send buffer accounting; offered records each
	// offering end.
	track   bool
	offered []*pipeEnd
}

func newMemNet() *memNet {
	return &memNet{pending: make(map[string]*pipeEnd)}
}

func (m *memNet) Offer(_ context.Context, send func(signaling.SignalPayload)) (Negotiator, error) {
	a, b := newPipe(m.closeAfter, m.track)

	m.mu.Lock()
	m.offered = append(m.offered, a)
	m.next++
	id := fmt.Sprintf("pipe-%d", m.next)
	m.pending[id] = b
	m.mu.Unlock()

	send(signaling.SignalPayload{Type: signaling.SignalOffer, SDP: id})
	send(signaling.SignalPayload{Type: signaling.SignalCandidate, Candidate: json.RawMessage(`{"candidate":"mem"}`)})
	return &memNegotiator{end: a}, nil
}

func (m *memNet) Answer(_ context.Context, offer signaling.SignalPayload, send func(signaling.SignalPayload)) (Negotiator, error) {
	m.mu.Lock()
	b, ok := m.pending[offer.SDP]
	delete(m.pending, offer.SDP)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown offer %q", offer.SDP)
	}

	send(signaling.SignalPayload{Type: signaling.SignalAnswer, SDP: offer.SDP})
	b.open()
	b.peer.open()
	return &memNegotiator{end: b}, nil
}

func (m *memNet) lastOffered() *pipeEnd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.offered) == 0 {
		return nil
	}
	return m.offered[len(m.offered)-1]
}

func (m *memNet) offers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offered)
}

// memSignaler delivers signals straight to its peer's event stream.
type memSignaler struct {
	events chan signaling.Event
	peer   *memSignaler
	calls  atomic.Int64
}

func newSignalerPair() (*memSignaler, *memSignaler) {
	a := &memSignaler{events: make(chan signaling.Event, 64)}
	b := &memSignaler{events: make(chan signaling.Event, 64)}
	a.peer, b.peer = b, a
	return a, b
}

func (m *memSignaler) Events() <-chan signaling.Event { return m.events }

func (m *memSignaler) SendSignal(code string, sig signaling.SignalPayload) error {
	m.calls.Add(1)
	m.peer.events <- signaling.Event{Kind: signaling.EventSignal, Code: code, Signal: sig}
	return nil
}

// recorder is an Observer that remembers every state and the last
// progress report.
type recorder struct {
	mu     sync.Mutex
	states []State
	done   int64
	total  int64
}

func (r *recorder) StateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) Progress(done, total int64) {
	r.mu.Lock()
	r.done, r.total = done, total
	r.mu.Unlock()
}

func (r *recorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

func (r *recorder) sawState(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

// failingSink accepts nothing and remembers whether it was discarded.
type failingSink struct {
	err       error
	discarded atomic.Bool
}

func (f *failingSink) Write([]byte) (int, error) { return 0, f.err }
func (f *failingSink) Finalize() (string, error) { return "", f.err }
func (f *failingSink) Discard() error {
	f.discarded.Store(true)
	return nil
}

type outcome struct {
	res *Result
	err error
}

func runAsync(ctx context.Context, run func(context.Context) (*Result, error)) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		res, err := run(ctx)
		out <- outcome{res, err}
	}()
	return out
}
