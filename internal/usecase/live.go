package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	domrepo "OhlcvAPI/internal/domain/repository"
	pkgkafka "OhlcvAPI/pkg/kafka"
	applogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/util"
)

// ErrInvalidLiveMessage marks upstream payloads that can never be delivered.
var ErrInvalidLiveMessage = errors.New("invalid live message")

// Broadcaster fans a frame out to the subscribers of one key.
type Broadcaster interface {
	Broadcast(ctx context.Context, key market.SubscriptionKey, msg []byte) int
}

// LiveBroadcaster turns upstream live updates into WebSocket frames.
type LiveBroadcaster struct {
	hub  Broadcaster
	opts options
}

func NewLiveBroadcaster(hub Broadcaster, opts ...Option) *LiveBroadcaster {
	return &LiveBroadcaster{hub: hub, opts: buildOptions(opts)}
}

// DecodeLiveMessage parses an upstream payload. Type defaults to ohlcv_live.
// For candle feeds the is_final flag is lifted out of data.
func DecodeLiveMessage(b []byte) (*models.LiveMessage, error) {
	var m models.LiveMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLiveMessage, err)
	}
	if m.Type == "" {
		m.Type = string(market.FeedOHLCVLive)
	}
	if m.Type != string(market.FeedTradeLive) && len(m.Data) > 0 {
		var c models.LiveCandleData
		if err := json.Unmarshal(m.Data, &c); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrInvalidLiveMessage, err)
		}
		m.Final = c.IsFinal
	}
	return &m, nil
}

// ValidateLiveMessage checks the fields needed to route a message.
func ValidateLiveMessage(m *models.LiveMessage) (market.FeedType, error) {
	if m == nil {
		return "", fmt.Errorf("%w: nil", ErrInvalidLiveMessage)
	}
	var missing []string
	if m.Exchange == "" {
		missing = append(missing, "exchange")
	}
	if m.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if m.Timeframe == "" && market.FeedType(m.Type) != market.FeedTradeLive {
		missing = append(missing, "timeframe")
	}
	if len(m.Data) == 0 {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidLiveMessage, strings.Join(missing, ", "))
	}
	feed, err := market.ParseFeedType(m.Type)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLiveMessage, err)
	}
	if feed != market.FeedTradeLive && !market.IsValidTimeframe(m.Timeframe) {
		return "", fmt.Errorf("%w: %w: %q", ErrInvalidLiveMessage, market.ErrInvalidTimeframe, m.Timeframe)
	}
	return feed, nil
}

// UpdateKey is the subscription key a message is delivered to.
func UpdateKey(m *models.LiveMessage) market.SubscriptionKey {
	return market.MakeKey(m.Exchange, m.Symbol, m.Timeframe, market.FeedType(m.Type))
}

// Publish broadcasts m and returns the number of connections that received it.
func (b *LiveBroadcaster) Publish(ctx context.Context, m *models.LiveMessage) (int, error) {
	feed, err := ValidateLiveMessage(m)
	if err != nil {
		return 0, err
	}

	frameType := models.FrameOHLCVUpdate
	if feed == market.FeedTradeLive {
		frameType = models.FrameTradeUpdate
	}
	frame, err := json.Marshal(models.UpdateFrame{
		Type:      frameType,
		Exchange:  market.NormalizeExchange(m.Exchange),
		Symbol:    m.Symbol,
		Timeframe: m.Timeframe,
		Timestamp: util.FormatISO(b.opts.now()),
		Data:      m.Data,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: encode frame: %v", ErrInvalidLiveMessage, err)
	}

	key := UpdateKey(m)
	n := b.hub.Broadcast(ctx, key, frame)
	b.opts.log.Debug("live update broadcast",
		applogger.String("key", key.String()),
		applogger.Bool("final", m.Final),
		applogger.Int("delivered", n),
	)
	return n, nil
}

// LiveUpdatesHandler consumes live updates from a Kafka topic.
type LiveUpdatesHandler struct {
	topic   string
	next    LivePublisher
	metrics domrepo.Metrics
}

// LivePublisher is satisfied by LiveBroadcaster and by the live pipeline in front of it.
type LivePublisher interface {
	Publish(ctx context.Context, m *models.LiveMessage) (int, error)
}

func NewLiveUpdatesHandler(topic string, next LivePublisher, metrics domrepo.Metrics) *LiveUpdatesHandler {
	return &LiveUpdatesHandler{topic: topic, next: next, metrics: metrics}
}

func (h *LiveUpdatesHandler) Topic() string { return h.topic }

// Handle returns nil for malformed payloads: retrying cannot fix them.
func (h *LiveUpdatesHandler) Handle(ctx context.Context, b []byte) error {
	m, err := DecodeLiveMessage(b)
	if err == nil {
		_, err = h.next.Publish(ctx, m)
	}
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("live_update")
		}
		if errors.Is(err, ErrInvalidLiveMessage) {
			return nil
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*LiveUpdatesHandler)(nil)
