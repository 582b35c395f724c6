// Package session manages the realtime media session: microphone track,
// peer endpoint, control channel and the control event log.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/bromscandium/BioGrow/domain"
	"github.com/bromscandium/BioGrow/domain/entities"
)

// ControlChannelLabel is the label of the control channel expected by the
// remote model.
const ControlChannelLabel = "oai-events"

const (
	defaultChannelOpenTimeout = 20 * time.Second

	eventTimeLayout = "15:04:05"
)

var (
	// ErrSessionBusy is returned by Start when a session is already
	// negotiating or active.
	ErrSessionBusy = errors.New("session already started")
	// ErrSessionStopped is returned by Start when Stop was called before
	// negotiation finished.
	ErrSessionStopped = errors.New("session stopped during start")
	// ErrPeerFailed is reported to the observer when the peer connection fails.
	ErrPeerFailed = errors.New("peer connection failed")
	// ErrChannelOpenTimeout is reported when the control channel never opens.
	ErrChannelOpenTimeout = errors.New("control channel did not open in time")
	// ErrChannelClosed is reported when the remote side closes the control channel.
	ErrChannelClosed = errors.New("control channel closed by remote")
)

// Config holds the collaborators of a Manager
type Config struct {
	Peers              PeerFactory   // Required
	Microphone         AudioSource   // Required
	Negotiator         Negotiator    // Required
	Sink               RemoteSink    // Optional: remote audio is discarded when nil
	Observer           Observer      // Optional
	ChannelOpenTimeout time.Duration // Optional
}

// Manager owns at most one media session at a time.
type Manager struct {
	peers              PeerFactory
	microphone         AudioSource
	negotiator         Negotiator
	sink               RemoteSink
	observer           Observer
	channelOpenTimeout time.Duration
	logger             *zap.Logger
	now                func() time.Time

	mu sync.Mutex
	// generation changes on every Start, Stop and teardown. Callbacks and
	// in-flight starts compare it to detect that their session is gone.
	generation uint64
	state      entities.SessionState
	resources  *compensations
	channel    ControlChannel
	events     []domain.ControlEvent
}

// NewManager creates a session manager in the Idle state
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if config.Peers == nil {
		return nil, fmt.Errorf("peer factory is required")
	}
	if config.Microphone == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if config.Negotiator == nil {
		return nil, fmt.Errorf("negotiator is required")
	}

	m := &Manager{
		peers:              config.Peers,
		microphone:         config.Microphone,
		negotiator:         config.Negotiator,
		sink:               config.Sink,
		observer:           config.Observer,
		channelOpenTimeout: config.ChannelOpenTimeout,
		logger:             logger,
		now:                time.Now,
		state:              entities.SessionStateIdle,
	}
	if m.sink == nil {
		m.sink = nopSink{}
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.channelOpenTimeout == 0 {
		m.channelOpenTimeout = defaultChannelOpenTimeout
	}
	return m, nil
}

// State returns the current session state
func (m *Manager) State() entities.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns a snapshot of the control event log, most recent first
func (m *Manager) Events() []domain.ControlEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]domain.ControlEvent, len(m.events))
	copy(events, m.events)
	return events
}

// Start acquires the microphone, opens the peer endpoint and negotiates
// with the remote side. It returns once the answer is applied; the session
// becomes Active when the control channel opens.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.CanStart() {
		state := m.state
		m.mu.Unlock()
		m.logger.Warn("Session start ignored", zap.String("state", string(state)))
		return ErrSessionBusy
	}
	m.generation++
	gen := m.generation
	resources := &compensations{}
	m.resources = resources
	m.state = entities.SessionStateNegotiating
	m.mu.Unlock()

	m.logger.Info("Session starting", zap.Uint64("generation", gen))
	m.observer.SessionStateChanged(entities.SessionStateNegotiating, nil)

	err := m.negotiate(ctx, gen, resources)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	stopped := m.generation != gen
	if !stopped {
		m.generation++
		m.resources = nil
		m.channel = nil
		m.state = entities.SessionStateIdle
	}
	m.mu.Unlock()

	resources.run(m.logger)

	if stopped {
		m.logger.Info("Session start abandoned after stop", zap.Error(err))
		return ErrSessionStopped
	}

	m.logger.Error("Session start failed", zap.Error(err))
	m.observer.SessionStateChanged(entities.SessionStateIdle, err)
	return err
}

func (m *Manager) negotiate(ctx context.Context, gen uint64, resources *compensations) error {
	if err := m.hold(gen, resources, "remote audio", m.sink.Release); err != nil {
		return err
	}

	track, err := m.microphone.OpenTrack(ctx)
	if err != nil {
		var mediaErr *domain.MediaAccessError
		if !errors.As(err, &mediaErr) {
			err = &domain.MediaAccessError{Err: err}
		}
		return err
	}
	if err := m.hold(gen, resources, "microphone", track.Stop); err != nil {
		return err
	}

	peer, err := m.peers()
	if err != nil {
		return fmt.Errorf("failed to open peer endpoint: %w", err)
	}
	if err := m.hold(gen, resources, "peer", peer.Close); err != nil {
		return err
	}

	peer.OnRemoteTrack(func(remote *webrtc.TrackRemote) {
		if !m.current(gen) {
			return
		}
		m.logger.Info("Remote audio track received", zap.String("codec", remote.Codec().MimeType))
		m.sink.Attach(remote)
	})
	peer.OnFailed(func() {
		m.teardown(gen, ErrPeerFailed)
	})

	if err := peer.AddTrack(track); err != nil {
		return fmt.Errorf("failed to attach microphone track: %w", err)
	}

	channel, err := peer.CreateControlChannel(ControlChannelLabel)
	if err != nil {
		return fmt.Errorf("failed to open control channel: %w", err)
	}
	if err := m.hold(gen, resources, "control channel", channel.Close); err != nil {
		return err
	}
	channel.OnOpen(func() { m.activate(gen, channel) })
	channel.OnMessage(func(data []byte) { m.receive(gen, data) })
	channel.OnClose(func() { m.teardown(gen, ErrChannelClosed) })

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	answer, err := m.negotiator.Negotiate(ctx, offer)
	if err != nil {
		return err
	}

	if err := peer.SetAnswer(answer); err != nil {
		return &domain.NegotiationError{Err: fmt.Errorf("failed to apply answer: %w", err)}
	}

	watchdog := time.AfterFunc(m.channelOpenTimeout, func() {
		m.mu.Lock()
		pending := m.generation == gen && m.state == entities.SessionStateNegotiating
		m.mu.Unlock()
		if pending {
			m.teardown(gen, ErrChannelOpenTimeout)
		}
	})
	return m.hold(gen, resources, "open watchdog", func() error {
		watchdog.Stop()
		return nil
	})
}

// hold registers release for the session of generation gen. If that session
// was already stopped the handle is released immediately.
func (m *Manager) hold(gen uint64, resources *compensations, name string, release func() error) error {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		if err := release(); err != nil {
			m.logger.Warn("Failed to release session resource", zap.String("resource", name), zap.Error(err))
		}
		return ErrSessionStopped
	}
	resources.add(name, release)
	m.mu.Unlock()
	return nil
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation == gen
}

func (m *Manager) activate(gen uint64, channel ControlChannel) {
	m.mu.Lock()
	if m.generation != gen || m.state != entities.SessionStateNegotiating {
		m.mu.Unlock()
		return
	}
	m.state = entities.SessionStateActive
	m.channel = channel
	m.events = nil
	m.mu.Unlock()

	m.logger.Info("Session active", zap.Uint64("generation", gen))
	m.observer.SessionStateChanged(entities.SessionStateActive, nil)
}

// Stop releases every resource of the current session. It is safe to call
// in any state and more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.resources == nil && m.state == entities.SessionStateIdle {
		m.mu.Unlock()
		return
	}
	m.generation++
	resources := m.resources
	m.resources = nil
	m.channel = nil
	m.state = entities.SessionStateIdle
	m.mu.Unlock()

	if resources != nil {
		resources.run(m.logger)
	}

	m.logger.Info("Session stopped")
	m.observer.SessionStateChanged(entities.SessionStateIdle, nil)
}

func (m *Manager) teardown(gen uint64, cause error) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.generation++
	resources := m.resources
	m.resources = nil
	m.channel = nil
	m.state = entities.SessionStateIdle
	m.mu.Unlock()

	m.logger.Warn("Session torn down", zap.Error(cause))
	if resources != nil {
		resources.run(m.logger)
	}
	m.observer.SessionStateChanged(entities.SessionStateIdle, cause)
}

// Send transmits a control event. The event gets an event_id when it has
// none; its timestamp is recorded in the log but never transmitted.
func (m *Manager) Send(event domain.ControlEvent) error {
	m.mu.Lock()
	channel := m.channel
	active := m.state.IsActive()
	m.mu.Unlock()

	if !active || channel == nil {
		return &domain.ChannelNotReadyError{EventType: event.Type}
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	payload := make(map[string]any, len(event.Payload)+2)
	for k, v := range event.Payload {
		payload[k] = v
	}
	payload["type"] = event.Type
	payload["event_id"] = event.EventID
	delete(payload, "timestamp")

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event.Type, err)
	}

	if err := channel.Send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", event.Type, err)
	}

	event.Direction = domain.EventOutbound
	event.Timestamp = m.now().Format(eventTimeLayout)
	payload["timestamp"] = event.Timestamp
	event.Payload = payload

	m.record(event)
	m.logger.Debug("Control event sent",
		zap.String("type", event.Type),
		zap.String("eventID", event.EventID))
	return nil
}

// SendText sends typed user input followed by a request for a response
func (m *Manager) SendText(text string) error {
	if err := m.Send(domain.NewUserTextItem(text)); err != nil {
		return err
	}
	return m.Send(domain.NewResponseRequest())
}

func (m *Manager) receive(gen uint64, data []byte) {
	event, err := domain.ParseControlEvent(data)
	if err != nil {
		m.logger.Warn("Dropping control message", zap.Error(err))
		return
	}

	if event.Timestamp == "" {
		event.Timestamp = m.now().Format(eventTimeLayout)
		event.Payload["timestamp"] = event.Timestamp
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.events = append([]domain.ControlEvent{event}, m.events...)
	m.mu.Unlock()

	m.logger.Debug("Control event received", zap.String("type", event.Type))
	m.observer.ControlEventReceived(event)
}

func (m *Manager) record(event domain.ControlEvent) {
	m.mu.Lock()
	m.events = append([]domain.ControlEvent{event}, m.events...)
	m.mu.Unlock()
}
