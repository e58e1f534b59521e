package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/proto"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print snapshots streamed by a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				cfg, _, err := root.load(config.Config{})
				if err != nil {
					return err
				}
				addr = cfg.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			err := watch(ctx, wsURL(addr), raw)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "daemon address (defaults to the configured addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().BoolVar(&raw, "json", false, "print raw JSON snapshots")
	return cmd
}

func wsURL(addr string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	u.RawQuery = url.Values{"protocol": {strconv.Itoa(proto.ProtocolVersion)}}.Encode()
	return u.String()
}

func watch(ctx context.Context, addr string, raw bool) error {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if outbound.Type == proto.OutboundTypeError && outbound.Error != nil {
			return fmt.Errorf("%s: %s", outbound.Error.Code, outbound.Error.Msg)
		}
		if outbound.Event != proto.EventSnapshot {
			continue
		}
		if raw {
			fmt.Println(string(outbound.Data))
			continue
		}

		var snap proto.Snapshot
		if err := json.Unmarshal(outbound.Data, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		fmt.Println(formatSnapshot(snap))
	}
}

func formatSnapshot(s proto.Snapshot) string {
	line := fmt.Sprintf("#%d registration=%s", s.Seq, s.Registration.State)
	if s.Registration.Identity != "" {
		line += " identity=" + s.Registration.Identity
	}
	if s.Registration.RetryAttempt > 0 {
		line += fmt.Sprintf(" retry=%d", s.Registration.RetryAttempt)
	}
	if s.Call == nil {
		return line + " call=none"
	}
	c := s.Call
	line += fmt.Sprintf(" call=%s %s %s %s peer=%q", c.Status, c.Direction, c.MediaKind, c.RemoteIdentity, c.PeerName)
	if c.Muted {
		line += " muted"
	}
	if c.CameraOff {
		line += " camera-off"
	}
	return line
}
