package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/core"
	"github.com/vovakirdan/wirecall/internal/proto"
)

const wsWriteTimeout = 5 * time.Second

// Subscriptions hands out snapshot subscriptions.
type Subscriptions interface {
	Subscribe(id string) *core.Subscriber
	Unsubscribe(s *core.Subscriber)
}

// WSHandler upgrades HTTP connections and streams snapshots to them. The
// first message is always the latest snapshot.
type WSHandler struct {
	subs Subscriptions
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(subs Subscriptions, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{subs: subs, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	// The stream is one-way; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	if raw := r.URL.Query().Get("protocol"); raw != "" {
		if v, err := strconv.Atoi(raw); err != nil || v != proto.ProtocolVersion {
			_ = h.write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: "unsupported_version", Msg: "unsupported protocol version"},
			})
			conn.Close(websocket.StatusPolicyViolation, "unsupported protocol version")
			return
		}
	}

	sub := h.subs.Subscribe(uuid.NewString())
	defer h.subs.Unsubscribe(sub)

	err = h.writeLoop(ctx, conn, sub)

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			reason = err.Error()
			h.log.Warn().Err(err).Str("subscriber", sub.ID).Msg("ws connection closed with error")
		}
	}
	conn.Close(status, reason)
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *core.Subscriber) error {
	for {
		select {
		case snap, ok := <-sub.Events:
			if !ok {
				return nil
			}
			out := proto.Outbound{
				Type:  proto.OutboundTypeEvent,
				Event: proto.EventSnapshot,
				Data:  snapshotToProto(snap),
			}
			if err := h.write(ctx, conn, out); err != nil {
				h.log.Debug().Err(err).Str("subscriber", sub.ID).Msg("write ws snapshot")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}
