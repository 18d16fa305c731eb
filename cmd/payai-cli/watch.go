package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
)

// eventsURL turns the JSON-RPC endpoint into the websocket event stream URL.
func eventsURL(endpoint, cursor, eventType string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid --rpc: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported --rpc scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/events"
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// watch prints streamed events until the stream ends or limit events were
// printed. A zero limit streams until interrupted.
func (c *cli) watch(ctx context.Context, cursor, eventType string, limit int) error {
	target, err := eventsURL(c.endpoint, cursor, eventType)
	if err != nil {
		return err
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for printed := 0; limit == 0 || printed < limit; printed++ {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.print(json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) watchCmd() *cobra.Command {
	var (
		cursor    string
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream committed events from the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.watch(cmd.Context(), cursor, eventType, limit)
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume after this cursor")
	cmd.Flags().StringVar(&eventType, "type", "", "only stream event types with this prefix")
	cmd.Flags().IntVar(&limit, "limit", 0, "exit after this many events")
	return cmd
}
