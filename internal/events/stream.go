// Package events sequences broker notifications for WebSocket subscribers with at-least-once
// delivery across reconnects.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind enumerates the notifications carried by the stream.
type Kind string

const (
	KindCheckpoint    Kind = "checkpoint"
	KindVerdict       Kind = "verdict"
	KindSessionOpened Kind = "session_opened"
	KindSessionSealed Kind = "session_sealed"
	KindSessionClosed Kind = "session_closed"
)

// Envelope carries one JSON payload together with sequencing metadata.
type Envelope struct {
	Sequence uint64          `json:"seq"`
	Kind     Kind            `json:"kind"`
	Subject  string          `json:"subject,omitempty"`
	Time     time.Time       `json:"time"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Clone duplicates the payload bytes so subscribers never share a buffer.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Payload = append(json.RawMessage(nil), e.Payload...)
	return &clone
}

// Config controls the retention policy for the stream log and subscriber buffers.
type Config struct {
	Retain int
	Clock  func() time.Time
}

// Default retention keeps the last 512 events if no explicit value is provided.
const defaultRetention = 512

// Stream coordinates ordered event delivery with at-least-once semantics per subscriber.
type Stream struct {
	mu          sync.Mutex
	nextSeq     uint64
	retention   int
	now         func() time.Time
	logOrder    []uint64
	logPayloads map[uint64]*Envelope
	subscribers map[string]*subscriberState
}

// subscriberState persists acknowledgement state between transient connections.
type subscriberState struct {
	id      string
	pending []uint64
	lastAck uint64
	ch      chan *Envelope
	done    chan struct{}
	active  bool
}

// Subscription exposes the event channel and acknowledgement helpers for a subscriber.
type Subscription struct {
	id     string
	stream *Stream
	events <-chan *Envelope
	done   <-chan struct{}
	once   sync.Once
}

// ErrOutOfOrderAck signals that a subscriber attempted to acknowledge future sequences.
var ErrOutOfOrderAck = errors.New("ack sequence must match the next pending event")

// NewStream constructs a stream using the provided configuration.
func NewStream(cfg Config) *Stream {
	retention := cfg.Retain
	if retention <= 0 {
		retention = defaultRetention
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Stream{
		retention:   retention,
		now:         now,
		logPayloads: make(map[uint64]*Envelope),
		subscribers: make(map[string]*subscriberState),
	}
}

// Subscribe attaches the logical subscriber to the stream and replays outstanding events. A second
// subscription under the same id supersedes the first.
func (s *Stream) Subscribe(ctx context.Context, subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}

	s.mu.Lock()
	state := s.ensureSubscriberLocked(subscriberID)
	s.detachLocked(state)
	replay := s.collectReplayLocked(state)
	ch := make(chan *Envelope, buffer)
	done := make(chan struct{})
	state.ch = ch
	state.done = done
	state.active = true
	state.pending = append([]uint64(nil), replay...)
	deliveries := s.prepareDeliveriesLocked(replay)
	s.mu.Unlock()

	go func() {
		//1.- Replay any outstanding events immediately after subscription.
		for _, env := range deliveries {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case ch <- env:
			}
		}
	}()

	return &Subscription{id: subscriberID, stream: s, events: ch, done: done}, nil
}

// Events exposes the ordered delivery channel for the subscriber.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// Done is closed once the subscription is closed or superseded.
func (s *Subscription) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

// ID returns the logical subscriber id.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Ack informs the stream that the subscriber processed the given sequence.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return errors.New("subscription closed")
	}
	return s.stream.ack(s.id, sequence)
}

// Close marks the subscription as inactive while preserving acknowledgement state.
func (s *Subscription) Close() {
	if s == nil || s.stream == nil {
		return
	}
	s.once.Do(func() {
		s.stream.deactivateSubscriber(s.id, s.done)
	})
}

// Forget drops a subscriber's acknowledgement state so retention no longer waits for it.
func (s *Stream) Forget(subscriberID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if state, ok := s.subscribers[subscriberID]; ok {
		s.detachLocked(state)
		delete(s.subscribers, subscriberID)
		s.enforceRetentionLocked()
	}
	s.mu.Unlock()
}

// Subscribers reports how many subscribers are currently attached.
func (s *Stream) Subscribers() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, state := range s.subscribers {
		if state.active {
			active++
		}
	}
	return active
}

func (s *Stream) ensureSubscriberLocked(subscriberID string) *subscriberState {
	state, ok := s.subscribers[subscriberID]
	if !ok {
		state = &subscriberState{id: subscriberID}
		s.subscribers[subscriberID] = state
	}
	return state
}

func (s *Stream) collectReplayLocked(state *subscriberState) []uint64 {
	//1.- When a subscriber reconnects we must replay any sequence greater than lastAck.
	replay := make([]uint64, 0, len(s.logOrder))
	for _, seq := range s.logOrder {
		if seq <= state.lastAck {
			continue
		}
		replay = append(replay, seq)
	}
	return replay
}

func (s *Stream) prepareDeliveriesLocked(sequences []uint64) []*Envelope {
	deliveries := make([]*Envelope, 0, len(sequences))
	for _, seq := range sequences {
		if payload, ok := s.logPayloads[seq]; ok {
			deliveries = append(deliveries, payload.Clone())
		}
	}
	return deliveries
}

// Publish marshals payload and enqueues it for every subscriber.
func (s *Stream) Publish(kind Kind, subject string, payload any) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil stream")
	}
	if kind == "" {
		return 0, errors.New("event kind required")
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encode %s event: %w", kind, err)
		}
		raw = encoded
	}
	return s.publishEnvelope(&Envelope{Kind: kind, Subject: subject, Payload: raw})
}

func (s *Stream) publishEnvelope(envelope *Envelope) (uint64, error) {
	s.mu.Lock()
	s.nextSeq++
	seq := s.nextSeq
	envelope.Sequence = seq
	envelope.Time = s.now().UTC()
	s.logPayloads[seq] = envelope
	s.logOrder = append(s.logOrder, seq)

	deliveries := make([]delivery, 0, len(s.subscribers))
	for _, state := range s.subscribers {
		state.pending = append(state.pending, seq)
		if len(state.pending) > s.retention {
			state.pending = state.pending[len(state.pending)-s.retention:]
		}
		if state.active && state.ch != nil {
			deliveries = append(deliveries, delivery{ch: state.ch, done: state.done, payload: envelope.Clone()})
		}
	}
	s.enforceRetentionLocked()
	s.mu.Unlock()

	for _, item := range deliveries {
		//1.- Never block the publisher; a full buffer is recovered by replay on reconnect.
		select {
		case <-item.done:
		case item.ch <- item.payload:
		default:
		}
	}

	return seq, nil
}

type delivery struct {
	ch      chan<- *Envelope
	done    <-chan struct{}
	payload *Envelope
}

func (s *Stream) enforceRetentionLocked() {
	//1.- Bound the log; subscribers that fell further behind lose the oldest events.
	if len(s.logOrder) <= s.retention {
		return
	}
	drop := len(s.logOrder) - s.retention
	for _, seq := range s.logOrder[:drop] {
		delete(s.logPayloads, seq)
	}
	s.logOrder = append([]uint64(nil), s.logOrder[drop:]...)
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return fmt.Errorf("unknown subscriber %q", subscriberID)
	}
	//1.- Drop pending sequences that retention already pruned so acks stay in step with the log.
	for len(state.pending) > 0 {
		if _, kept := s.logPayloads[state.pending[0]]; kept {
			break
		}
		state.pending = state.pending[1:]
	}
	if len(state.pending) == 0 {
		if sequence <= state.lastAck {
			return nil
		}
		return ErrOutOfOrderAck
	}
	if sequence != state.pending[0] {
		if sequence <= state.lastAck {
			return nil
		}
		return ErrOutOfOrderAck
	}
	state.pending = state.pending[1:]
	state.lastAck = sequence
	s.enforceRetentionLocked()
	return nil
}

func (s *Stream) detachLocked(state *subscriberState) {
	if state.done != nil {
		close(state.done)
		state.done = nil
	}
	state.ch = nil
	state.active = false
}

func (s *Stream) deactivateSubscriber(subscriberID string, done <-chan struct{}) {
	s.mu.Lock()
	state, ok := s.subscribers[subscriberID]
	//1.- Only detach when the closing subscription is still the current one.
	if ok && state.done != nil && (<-chan struct{})(state.done) == done {
		s.detachLocked(state)
	}
	s.mu.Unlock()
}
