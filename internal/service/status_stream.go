package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/observability"
)

const statusBufferSize = 16

// StatusStream fans submission status events out to websocket subscribers, across
// nodes when Redis is available.
type StatusStream interface {
	StatusPublisher
	Subscribe(assignmentID uint) (<-chan dto.StatusEvent, func())
	Start(ctx context.Context)
}

type statusStream struct {
	redis   *redis.Client
	channel string
	broker  *statusBroker
	nodeID  string
	logger  zerolog.Logger
}

type statusEnvelope struct {
	Source string          `json:"source"`
	Event  dto.StatusEvent `json:"event"`
}

type statusBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.StatusEvent]struct{}
}

// NewStatusStream constructs a status stream. redisClient may be nil for single-node setups.
func NewStatusStream(redisClient *redis.Client, channel string, logger zerolog.Logger) StatusStream {
	if channel == "" {
		channel = "assessment:status"
	}
	return &statusStream{
		redis:   redisClient,
		channel: channel,
		broker:  &statusBroker{subscribers: make(map[uint]map[chan dto.StatusEvent]struct{})},
		nodeID:  uuid.NewString(),
		logger:  logger.With().Str("component", "status_stream").Logger(),
	}
}

func (s *statusStream) Start(ctx context.Context) {
	if s.redis != nil {
		go s.consumeRedis(ctx)
	}
}

func (s *statusStream) Publish(ctx context.Context, event dto.StatusEvent) {
	s.broker.broadcast(event)

	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(statusEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode status event")
		return
	}
	if err := s.redis.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("submission_id", event.SubmissionID).Msg("failed to publish status event")
	}
}

func (s *statusStream) Subscribe(assignmentID uint) (<-chan dto.StatusEvent, func()) {
	channel := make(chan dto.StatusEvent, statusBufferSize)
	s.broker.subscribe(assignmentID, channel)
	observability.StatusStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(assignmentID, channel)
			observability.StatusStreamClients().Dec()
		})
	}
	return channel, cleanup
}

func (s *statusStream) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.channel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("status redis subscription closed")
			return
		}

		var envelope statusEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			s.logger.Warn().Err(err).Msg("invalid status event payload")
			continue
		}
		if envelope.Source == s.nodeID {
			continue
		}
		s.broker.broadcast(envelope.Event)
	}
}

func (b *statusBroker) subscribe(assignmentID uint, ch chan dto.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[assignmentID]; !exists {
		b.subscribers[assignmentID] = make(map[chan dto.StatusEvent]struct{})
	}
	b.subscribers[assignmentID][ch] = struct{}{}
}

func (b *statusBroker) unsubscribe(assignmentID uint, ch chan dto.StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[assignmentID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, assignmentID)
		}
	}
}

// broadcast never blocks; slow subscribers miss events and re-read the status endpoint.
func (b *statusBroker) broadcast(event dto.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.AssignmentID] {
		select {
		case ch <- event:
		default:
		}
	}
}
