package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
)

type fakeTrack struct {
	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) TrackLocal() webrtc.TrackLocal { return nil }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeMic struct {
	track *fakeTrack
	err   error
}

func (m *fakeMic) OpenTrack(ctx context.Context) (LocalTrack, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.track, nil
}

type fakeChannel struct {
	mu        sync.Mutex
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	sent      [][]byte
	closes    int
}

func (c *fakeChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.onOpen = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(f func([]byte)) {
	c.mu.Lock()
	c.onMessage = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	f := c.onOpen
	c.mu.Unlock()
	f()
}

func (c *fakeChannel) deliver(data string) {
	c.mu.Lock()
	f := c.onMessage
	c.mu.Unlock()
	f([]byte(data))
}

func (c *fakeChannel) sentEvents(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, data := range c.sent {
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatalf("Sent payload is not JSON: %v", err)
		}
		out = append(out, payload)
	}
	return out
}

type fakePeer struct {
	channel  *fakeChannel
	mu       sync.Mutex
	closes   int
	tracks   int
	onFailed func()
}

func (p *fakePeer) AddTrack(track LocalTrack) error {
	p.mu.Lock()
	p.tracks++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) CreateControlChannel(label string) (ControlChannel, error) {
	if label != ControlChannelLabel {
		return nil, errors.New("unexpected label " + label)
	}
	return p.channel, nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (string, error) { return "offer-sdp", nil }
func (p *fakePeer) SetAnswer(sdp string) error                      { return nil }
func (p *fakePeer) OnRemoteTrack(func(*webrtc.TrackRemote))         {}

func (p *fakePeer) OnFailed(f func()) {
	p.mu.Lock()
	p.onFailed = f
	p.mu.Unlock()
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *fakePeer) fail() {
	p.mu.Lock()
	f := p.onFailed
	p.mu.Unlock()
	f()
}

type fakeNegotiator struct {
	mu      sync.Mutex
	calls   int
	offers  []string
	err     error
	entered chan struct{}
	release chan struct{}
}

func (n *fakeNegotiator) Negotiate(ctx context.Context, offer string) (string, error) {
	n.mu.Lock()
	n.calls++
	n.offers = append(n.offers, offer)
	n.mu.Unlock()

	if n.entered != nil {
		close(n.entered)
	}
	if n.release != nil {
		<-n.release
	}
	if n.err != nil {
		return "", n.err
	}
	return "answer-sdp", nil
}

func (n *fakeNegotiator) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type stateChange struct {
	state entities.SessionState
	err   error
}

type recordingObserver struct {
	mu     sync.Mutex
	states []stateChange
	events []domain.ControlEvent
}

func (o *recordingObserver) SessionStateChanged(state entities.SessionState, err error) {
	o.mu.Lock()
	o.states = append(o.states, stateChange{state, err})
	o.mu.Unlock()
}

func (o *recordingObserver) ControlEventReceived(event domain.ControlEvent) {
	o.mu.Lock()
	o.events = append(o.events, event)
	o.mu.Unlock()
}

func (o *recordingObserver) last() stateChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return stateChange{}
	}
	return o.states[len(o.states)-1]
}

type fixture struct {
	manager    *Manager
	mic        *fakeMic
	peer       *fakePeer
	peerOpens  int
	negotiator *fakeNegotiator
	observer   *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mic:        &fakeMic{track: &fakeTrack{}},
		peer:       &fakePeer{channel: &fakeChannel{}},
		negotiator: &fakeNegotiator{},
		observer:   &recordingObserver{},
	}
	m, err := NewManager(Config{
		Peers: func() (Peer, error) {
			f.peerOpens++
			return f.peer, nil
		},
		Microphone: f.mic,
		Negotiator: f.negotiator,
		Observer:   f.observer,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.now = func() time.Time { return time.Date(2025, 3, 14, 9, 5, 7, 0, time.Local) }
	f.manager = m
	return f
}

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.peer.channel.open()
	if f.manager.State() != entities.SessionStateActive {
		t.Fatalf("Expected active state, got %s", f.manager.State())
	}
}

func TestStartActivatesOnChannelOpen(t *testing.T) {
	f := newFixture(t)

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if f.manager.State() != entities.SessionStateNegotiating {
		t.Errorf("Expected negotiating before channel open, got %s", f.manager.State())
	}
	if f.negotiator.offers[0] != "offer-sdp" {
		t.Errorf("Expected local offer to be negotiated, got %q", f.negotiator.offers[0])
	}
	if f.peer.tracks != 1 {
		t.Errorf("Expected microphone track attached once, got %d", f.peer.tracks)
	}

	f.peer.channel.open()

	if f.manager.State() != entities.SessionStateActive {
		t.Errorf("Expected active after channel open, got %s", f.manager.State())
	}
	if got := f.observer.last(); got.state != entities.SessionStateActive || got.err != nil {
		t.Errorf("Expected observer to see active, got %+v", got)
	}
}

func TestStartWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	err := f.manager.Start(context.Background())
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("Expected ErrSessionBusy, got %v", err)
	}
	if f.negotiator.callCount() != 1 {
		t.Errorf("Expected exactly one negotiation, got %d", f.negotiator.callCount())
	}
	if f.peerOpens != 1 {
		t.Errorf("Expected one peer endpoint, got %d", f.peerOpens)
	}
	if f.manager.State() != entities.SessionStateActive {
		t.Errorf("Expected session to stay active, got %s", f.manager.State())
	}
}

func TestStartWhileNegotiating(t *testing.T) {
	f := newFixture(t)
	f.negotiator.entered = make(chan struct{})
	f.negotiator.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.manager.Start(context.Background())
	}()
	<-f.negotiator.entered

	if f.manager.State() != entities.SessionStateNegotiating {
		t.Fatalf("Expected negotiating, got %s", f.manager.State())
	}
	if err := f.manager.Start(context.Background()); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy, got %v", err)
	}

	close(f.negotiator.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("First Start failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("First Start did not return")
	}

	if f.negotiator.callCount() != 1 {
		t.Errorf("Expected exactly one negotiation, got %d", f.negotiator.callCount())
	}
	if f.peerOpens != 1 {
		t.Errorf("Expected one peer endpoint, got %d", f.peerOpens)
	}
	f.manager.Stop()
}

func TestStartMicrophoneDenied(t *testing.T) {
	f := newFixture(t)
	f.mic.err = errors.New("permission denied")

	err := f.manager.Start(context.Background())

	var mediaErr *domain.MediaAccessError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("Expected MediaAccessError, got %v", err)
	}
	if f.peerOpens != 0 {
		t.Errorf("Expected no peer endpoint, got %d", f.peerOpens)
	}
	if f.negotiator.callCount() != 0 {
		t.Error("Expected no negotiation after media failure")
	}
	if f.manager.State() != entities.SessionStateIdle {
		t.Errorf("Expected idle, got %s", f.manager.State())
	}
}

func TestStartNegotiationFailureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.negotiator.err = &domain.NegotiationError{StatusCode: 401, Err: errors.New("unauthorized")}

	err := f.manager.Start(context.Background())

	var negErr *domain.NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("Expected NegotiationError, got %v", err)
	}
	if f.mic.track.stopCount() != 1 {
		t.Errorf("Expected microphone stopped once, got %d", f.mic.track.stopCount())
	}
	if f.peer.closeCount() != 1 {
		t.Errorf("Expected peer closed once, got %d", f.peer.closeCount())
	}
	if f.peer.channel.closes != 1 {
		t.Errorf("Expected channel closed once, got %d", f.peer.channel.closes)
	}
	if f.manager.State() != entities.SessionStateIdle {
		t.Errorf("Expected idle, got %s", f.manager.State())
	}
	if got := f.observer.last(); got.state != entities.SessionStateIdle || got.err == nil {
		t.Errorf("Expected observer to see idle with error, got %+v", got)
	}

	// a failed start leaves the manager reusable
	f.negotiator.err = nil
	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
}

func TestStopDuringStart(t *testing.T) {
	f := newFixture(t)
	f.negotiator.entered = make(chan struct{})
	f.negotiator.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.manager.Start(context.Background())
	}()

	<-f.negotiator.entered
	f.manager.Stop()

	if f.manager.State() != entities.SessionStateIdle {
		t.Errorf("Expected idle right after stop, got %s", f.manager.State())
	}
	close(f.negotiator.release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionStopped) {
			t.Errorf("Expected ErrSessionStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after stop")
	}

	if f.mic.track.stopCount() != 1 {
		t.Errorf("Expected microphone stopped once, got %d", f.mic.track.stopCount())
	}
	if f.peer.closeCount() != 1 {
		t.Errorf("Expected peer closed once, got %d", f.peer.closeCount())
	}

	// a late channel open must not revive the stopped session
	f.peer.channel.open()
	if f.manager.State() != entities.SessionStateIdle {
		t.Errorf("Expected idle after late open, got %s", f.manager.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.manager.Stop()
	if len(f.observer.states) != 0 {
		t.Errorf("Expected no notifications when stopping idle session, got %d", len(f.observer.states))
	}

	f.activate(t)
	f.manager.Stop()
	f.manager.Stop()

	if f.mic.track.stopCount() != 1 {
		t.Errorf("Expected microphone stopped once, got %d", f.mic.track.stopCount())
	}
	if f.peer.closeCount() != 1 {
		t.Errorf("Expected peer closed once, got %d", f.peer.closeCount())
	}
	if f.manager.State() != entities.SessionStateIdle {
		t.Errorf("Expected idle, got %s", f.manager.State())
	}
}

func TestSendRequiresActiveSession(t *testing.T) {
	f := newFixture(t)

	err := f.manager.Send(domain.NewResponseRequest())
	if !errors.Is(err, domain.ErrChannelNotReady) {
		t.Fatalf("Expected ErrChannelNotReady when idle, got %v", err)
	}

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err = f.manager.Send(domain.NewResponseRequest())
	var notReady *domain.ChannelNotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Expected ChannelNotReadyError while negotiating, got %v", err)
	}
	if len(f.peer.channel.sent) != 0 {
		t.Errorf("Expected nothing transmitted, got %d messages", len(f.peer.channel.sent))
	}
	if len(f.manager.Events()) != 0 {
		t.Errorf("Expected empty event log, got %d", len(f.manager.Events()))
	}
}

func TestSendStampsAndRecords(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	if err := f.manager.SendText("when should I plant maize?"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	sent := f.peer.channel.sentEvents(t)
	if len(sent) != 2 {
		t.Fatalf("Expected 2 transmitted events, got %d", len(sent))
	}
	if sent[0]["type"] != domain.ControlEventItemCreate || sent[1]["type"] != domain.ControlEventResponseCreate {
		t.Errorf("Unexpected event order: %v, %v", sent[0]["type"], sent[1]["type"])
	}
	for _, payload := range sent {
		if id, _ := payload["event_id"].(string); id == "" {
			t.Error("Expected generated event_id")
		}
		if _, ok := payload["timestamp"]; ok {
			t.Error("Timestamp must not be transmitted")
		}
	}

	events := f.manager.Events()
	if len(events) != 2 {
		t.Fatalf("Expected 2 logged events, got %d", len(events))
	}
	if events[0].Type != domain.ControlEventResponseCreate {
		t.Errorf("Expected most recent event first, got %s", events[0].Type)
	}
	if events[0].Timestamp != "09:05:07" {
		t.Errorf("Expected client timestamp, got %q", events[0].Timestamp)
	}
}

func TestSendKeepsExistingEventID(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	event := domain.NewResponseRequest()
	event.EventID = "evt_fixed"
	if err := f.manager.Send(event); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := f.peer.channel.sentEvents(t)[0]["event_id"]; got != "evt_fixed" {
		t.Errorf("Expected event_id evt_fixed, got %v", got)
	}
}

func TestInboundEvents(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	f.peer.channel.deliver(`{not json`)
	f.peer.channel.deliver(`{"type":"session.created","event_id":"e1"}`)
	f.peer.channel.deliver(`{"type":"response.done","timestamp":"08:00:00"}`)

	events := f.manager.Events()
	if len(events) != 2 {
		t.Fatalf("Expected malformed message dropped and 2 events logged, got %d", len(events))
	}
	if events[0].Type != "response.done" || events[0].Timestamp != "08:00:00" {
		t.Errorf("Expected remote timestamp kept, got %+v", events[0])
	}
	if events[1].Timestamp != "09:05:07" {
		t.Errorf("Expected receipt timestamp, got %q", events[1].Timestamp)
	}
	if len(f.observer.events) != 2 {
		t.Errorf("Expected observer to get 2 events, got %d", len(f.observer.events))
	}
	if f.manager.State() != entities.SessionStateActive {
		t.Errorf("Expected session to stay active, got %s", f.manager.State())
	}
}

func TestChannelOpenClearsEventLog(t *testing.T) {
	f := newFixture(t)
	f.activate(t)
	f.peer.channel.deliver(`{"type":"session.created"}`)
	f.manager.Stop()

	f.peer = &fakePeer{channel: &fakeChannel{}}
	f.activate(t)

	if len(f.manager.Events()) != 0 {
		t.Errorf("Expected empty event log after new channel opened, got %d", len(f.manager.Events()))
	}
}

func TestPeerFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	f.peer.fail()

	if f.manager.State() != entities.SessionStateIdle {
		t.Errorf("Expected idle after failure, got %s", f.manager.State())
	}
	if got := f.observer.last(); !errors.Is(got.err, ErrPeerFailed) {
		t.Errorf("Expected observer to get ErrPeerFailed, got %v", got.err)
	}
	if f.peer.closeCount() != 1 {
		t.Errorf("Expected peer closed, got %d", f.peer.closeCount())
	}
	if err := f.manager.Send(domain.NewResponseRequest()); !errors.Is(err, domain.ErrChannelNotReady) {
		t.Errorf("Expected ErrChannelNotReady after failure, got %v", err)
	}
}

func TestChannelOpenTimeout(t *testing.T) {
	f := newFixture(t)
	f.manager.channelOpenTimeout = 20 * time.Millisecond

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.manager.State() != entities.SessionStateIdle {
		if time.Now().After(deadline) {
			t.Fatal("Session never timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := f.observer.last(); !errors.Is(got.err, ErrChannelOpenTimeout) {
		t.Errorf("Expected ErrChannelOpenTimeout, got %v", got.err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{}, zap.NewNop()); err == nil {
		t.Error("Expected error for empty config")
	}
}
