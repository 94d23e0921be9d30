package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"OhlcvAPI/internal/domain/market"
	"OhlcvAPI/internal/domain/models"
	"OhlcvAPI/internal/realtime"
	xhttp "OhlcvAPI/pkg/http"
	xlogger "OhlcvAPI/pkg/logger"
	"OhlcvAPI/pkg/util"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	msgInvalidJSON   = "Invalid JSON format"
	msgMissingFields = "Missing required fields: exchange, symbol, timeframe, type"
)

// Handler serves the live OHLCV WebSocket. Each connection's frames are handled
// in order on its read goroutine; replies go through the hub so a dead peer is a no-op.
type Handler struct {
	hub      *realtime.Manager
	upgrader websocket.Upgrader
	logger   *xlogger.Logger
	now      func() time.Time
}

type Option func(*Handler)

func WithLogger(l *xlogger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func NewHandler(hub *realtime.Manager, opts ...Option) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: xlogger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r xhttp.Router) {
	r.GET("/ws/ohlcv", h.Serve)
}

// Serve upgrades the request and blocks until the peer goes away.
func (h *Handler) Serve(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}

	conn := realtime.NewWSConn(ws)
	id := h.hub.Connect(conn)
	l := h.logger.With(
		xlogger.String("session", uuid.NewString()),
		xlogger.Uint64("conn_id", uint64(id)),
		xlogger.String("remote", c.RealIP()),
	)
	l.Info("websocket connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.KeepAlive()

	err = conn.ReadLoop(func(msg []byte) {
		h.handle(ctx, id, msg, l)
	})
	if realtime.IsUnexpectedClose(err) {
		l.Warn("websocket closed unexpectedly", xlogger.Error(err))
	}

	keys := len(h.hub.KeysOf(id))
	h.hub.Disconnect(id)
	_ = conn.Close()
	l.Info("websocket disconnected", xlogger.Int("subscriptions", keys))
	return nil
}

func (h *Handler) handle(ctx context.Context, id realtime.ConnID, msg []byte, l *xlogger.Logger) {
	var req models.WSRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		h.sendError(ctx, id, msgInvalidJSON)
		return
	}

	switch req.Action {
	case models.ActionSubscribe:
		h.subscribe(ctx, id, req, l)
	case models.ActionUnsubscribe:
		h.unsubscribe(ctx, id, req, l)
	default:
		h.sendError(ctx, id, "Unknown action: "+req.Action)
	}
}

func (h *Handler) subscribe(ctx context.Context, id realtime.ConnID, req models.WSRequest, l *xlogger.Logger) {
	key, err := h.keyFor(req)
	if err != nil {
		h.sendError(ctx, id, subscriptionError("Subscription", err))
		return
	}
	added := h.hub.Subscribe(id, key)
	l.Debug("subscribed", xlogger.String("key", key.String()), xlogger.Bool("new", added))
	h.confirm(ctx, id, models.FrameSubscriptionConfirmed, "subscribed", req)
}

func (h *Handler) unsubscribe(ctx context.Context, id realtime.ConnID, req models.WSRequest, l *xlogger.Logger) {
	key, err := h.keyFor(req)
	if err != nil {
		h.sendError(ctx, id, subscriptionError("Unsubscription", err))
		return
	}
	h.hub.Unsubscribe(id, key)
	l.Debug("unsubscribed", xlogger.String("key", key.String()))
	h.confirm(ctx, id, models.FrameUnsubscriptionConfirmed, "unsubscribed", req)
}

// keyFor validates a control message and derives its subscription key.
// Trade feeds skip the timeframe check; MakeKey drops their timeframe.
func (h *Handler) keyFor(req models.WSRequest) (market.SubscriptionKey, error) {
	if errs := xhttp.Validate(&req); len(errs) > 0 {
		return "", errMissingFields
	}
	feed, err := market.ParseFeedType(req.Type)
	if err != nil {
		return "", err
	}
	if feed != market.FeedTradeLive {
		if _, err := market.Translate(req.Timeframe); err != nil {
			return "", err
		}
	}
	return market.MakeKey(req.Exchange, req.Symbol, req.Timeframe, feed), nil
}

func (h *Handler) confirm(ctx context.Context, id realtime.ConnID, frameType, status string, req models.WSRequest) {
	h.send(ctx, id, models.SubscriptionFrame{
		Type:             frameType,
		Exchange:         market.NormalizeExchange(req.Exchange),
		Symbol:           req.Symbol,
		Timeframe:        req.Timeframe,
		SubscriptionType: req.Type,
		Timestamp:        util.FormatISO(h.now()),
		Data:             models.SubscriptionStatus{Status: status},
	})
}

func (h *Handler) sendError(ctx context.Context, id realtime.ConnID, message string) {
	h.send(ctx, id, models.ErrorFrame{
		Type:      models.FrameError,
		Message:   message,
		Timestamp: util.FormatISO(h.now()),
	})
}

func (h *Handler) send(ctx context.Context, id realtime.ConnID, frame interface{}) {
	b, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encode websocket frame", xlogger.Error(err))
		return
	}
	h.hub.SendTo(ctx, id, b)
}

var errMissingFields = errors.New(msgMissingFields)

func subscriptionError(kind string, err error) string {
	if errors.Is(err, errMissingFields) {
		return msgMissingFields
	}
	return fmt.Sprintf("%s error: %v", kind, err)
}
