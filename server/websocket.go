package server

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/n9te9/go-graphql-federation-gateway/internal/executor"
	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
)

// graphql-transport-ws message types (spec.md §6 WebSocket ingress).
const (
	wsConnectionInit = "connection_init"
	wsConnectionAck  = "connection_ack"
	wsSubscribe      = "subscribe"
	wsNext           = "next"
	wsError          = "error"
	wsComplete       = "complete"
	wsPing           = "ping"
	wsPong           = "pong"
)

// Standard graphql-transport-ws close codes (spec.md §6: "Close codes
// map to the standard subprotocol codes").
const (
	closeInvalidMessage          = 4400
	closeUnauthorized            = 4401
	closeTooManyInitRequests     = 4429
	closeConnectionInitTimeout   = 4408
	closeSubscriberAlreadyExists = 4409
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// serveWebSocket upgrades to graphql-transport-ws and drives
// subscription operations through executor.ExecuteSubscription,
// translating each Frame into a "next" message and the terminal frame
// into "complete" (spec.md §4.6 "Subscriptions", §6 WebSocket ingress).
//
// The teacher has no WebSocket ingress; this is new code grounded on
// internal/dispatcher.Dispatcher's Subscribe (the subgraph-side half
// of the same gorilla/websocket dependency) and written in the small
// struct-plus-loop idiom the rest of this package uses.
func (g *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, http.Header{"Sec-WebSocket-Protocol": []string{"graphql-transport-ws"}})
	if err != nil {
		return
	}
	defer conn.Close()

	initDeadline := time.AfterFunc(10*time.Second, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeConnectionInitTimeout, "connection initialisation timeout"),
			time.Now().Add(time.Second))
		conn.Close()
	})

	initialized := false
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case wsConnectionInit:
			if initialized {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeTooManyInitRequests, "too many initialisation requests"),
					time.Now().Add(time.Second))
				return
			}
			initialized = true
			initDeadline.Stop()
			_ = conn.WriteJSON(wsMessage{Type: wsConnectionAck})

		case wsPing:
			_ = conn.WriteJSON(wsMessage{Type: wsPong})

		case wsSubscribe:
			if !initialized {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(closeUnauthorized, "connection not initialised"),
					time.Now().Add(time.Second))
				return
			}
			go g.runSubscription(ctx, conn, msg.ID, msg.Payload)

		case wsComplete:
			cancel()

		default:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeInvalidMessage, "unknown message type"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (g *Gateway) runSubscription(ctx context.Context, conn *websocket.Conn, id string, rawPayload json.RawMessage) {
	var payload subscribePayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		_ = conn.WriteJSON(wsMessage{ID: id, Type: wsError})
		return
	}

	p, bound, err := g.planOperation(graphQLRequest{
		Query:         payload.Query,
		OperationName: payload.OperationName,
		Variables:     payload.Variables,
	}, http.MethodPost)
	if err != nil {
		_ = conn.WriteJSON(wsMessage{ID: id, Type: wsError, Payload: mustMarshal(errorPayload(err))})
		return
	}

	headers := map[string]string{}
	frames, err := g.exec.ExecuteSubscription(ctx, p, &executor.Request{Operation: bound, Variables: bound.Variables, Headers: headers})
	if err != nil {
		_ = conn.WriteJSON(wsMessage{ID: id, Type: wsError, Payload: mustMarshal(errorPayload(err))})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				_ = conn.WriteJSON(wsMessage{ID: id, Type: wsComplete})
				return
			}
			if f.Done {
				_ = conn.WriteJSON(wsMessage{ID: id, Type: wsComplete})
				return
			}
			if f.Err != nil {
				_ = conn.WriteJSON(wsMessage{ID: id, Type: wsError, Payload: mustMarshal(errorPayload(f.Err))})
				continue
			}
			_ = conn.WriteJSON(wsMessage{ID: id, Type: wsNext, Payload: mustMarshal(f.Output)})
		}
	}
}

func errorPayload(err error) []map[string]any {
	ge, ok := gatewayerr.As(err)
	if !ok {
		ge = gatewayerr.Wrap(gatewayerr.KindInternalServerError, "internal error", err)
	}
	return []map[string]any{{"message": ge.Message, "extensions": ge.Extensions()}}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
