// Package dispatcher is the Subgraph Dispatcher (spec.md §4.7): a
// per-subgraph HTTP/WebSocket client with header rewriting, retries,
// timeouts, response parsing, and streaming adaptation.
//
// Grounded on federation/executor/executor_v2.go's httpClient dispatch
// (construct request, parse response, surface subgraph errors) and
// federation/executor/query_builder_v2.go's request-body construction,
// using github.com/goccy/go-json (already imported by
// gateway/schema_fetcher.go for decoding subgraph `_service { sdl }`
// responses) for the hot request/response encode/decode path, and
// github.com/gorilla/websocket (the transport volaticloud's
// internal/graph/websocket.go uses) for subscription egress.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/n9te9/go-graphql-federation-gateway/internal/gatewayerr"
	"github.com/n9te9/go-graphql-federation-gateway/internal/schema"
)

// GraphQLError mirrors the subgraph's own error shape, per spec.md
// §4.7/§4.8: "returns the response bytes along with the subgraph's own
// errors."
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Response is one subgraph round-trip's raw result.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// RetryPolicy configures the dispatcher's retry behavior.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Dispatcher sends GraphQL-over-HTTP requests to subgraphs and adapts
// WebSocket subscription streams.
type Dispatcher struct {
	Client *http.Client
	Dialer *websocket.Dialer
	Retry  RetryPolicy
}

// New creates a Dispatcher with the given subgraph-call timeout,
// matching gateway/gateway.go's "3 second timeout for subgraph
// requests" default.
func New(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Dispatcher{
		Client: &http.Client{Timeout: timeout},
		Dialer: websocket.DefaultDialer,
		Retry:  RetryPolicy{MaxAttempts: 2, Backoff: 50 * time.Millisecond},
	}
}

// graphQLRequestBody is the wire body of a GraphQL-over-HTTP POST.
type graphQLRequestBody struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// RewriteHeaders applies a subgraph's header rewrite rules against the
// ingress headers, per spec.md §6: "subgraph headers are a filtered
// subset of ingress headers plus statically configured values."
func RewriteHeaders(rules []schema.HeaderRule, ingress map[string]string) map[string]string {
	out := make(map[string]string)
	for _, rule := range rules {
		switch rule.Operation {
		case schema.HeaderPropagate:
			if v, ok := ingress[rule.Value]; ok {
				out[rule.Name] = v
			}
		case schema.HeaderInsert:
			out[rule.Name] = rule.Value
		case schema.HeaderRemove:
			delete(out, rule.Name)
		}
	}
	return out
}

// Dispatch sends a GraphQL request to sg and returns the parsed
// response, making at most Retry.MaxAttempts attempts in all; a
// transport failure, a 5xx status or an undecodable body is retried
// (spec.md §4.7).
func (d *Dispatcher) Dispatch(ctx context.Context, sg *schema.Subgraph, query string, variables map[string]any, headers map[string]string) (*Response, error) {
	body, err := json.Marshal(graphQLRequestBody{Query: query, Variables: variables})
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphRequestError, "encode request", err).WithService(sg.Name)
	}

	attempts := d.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, gatewayerr.New(gatewayerr.KindGatewayTimeout, "context cancelled during retry").WithService(sg.Name)
			case <-time.After(d.Retry.Backoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphRequestError, "build request", err).WithService(sg.Name)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := d.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		out, parseErr := d.readResponse(sg, resp)
		resp.Body.Close()
		if parseErr != nil {
			lastErr = parseErr
			continue
		}
		return out, nil
	}

	if ctx.Err() != nil {
		return nil, gatewayerr.New(gatewayerr.KindGatewayTimeout, "subgraph call exceeded deadline").WithService(sg.Name)
	}
	return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphRequestError, "subgraph request failed", lastErr).WithService(sg.Name)
}

func (d *Dispatcher) readResponse(sg *schema.Subgraph, resp *http.Response) (*Response, error) {
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("subgraph %s returned status %d", sg.Name, resp.StatusCode)
	}
	var out Response
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&out); err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphInvalidResponseError, "decode subgraph response", err).WithService(sg.Name)
	}
	return &out, nil
}

// Frame is one inbound subscription payload from a subgraph.
type Frame struct {
	Data []byte
	Err  error
	// Closed marks the terminal frame of a subscription stream.
	Closed bool
}

// Subscribe opens a graphql-transport-ws connection to sg and streams
// frames on the returned channel until ctx is cancelled or the
// subgraph closes the socket (spec.md §4.6, §4.7). An abnormal close
// is surfaced as a final Frame carrying Err.
func (d *Dispatcher) Subscribe(ctx context.Context, sg *schema.Subgraph, query string, variables map[string]any) (<-chan Frame, error) {
	conn, _, err := d.Dialer.DialContext(ctx, sg.WSURL, http.Header{"Sec-WebSocket-Protocol": []string{"graphql-transport-ws"}})
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphRequestError, "dial subscription", err).WithService(sg.Name)
	}

	init := map[string]any{"type": "connection_init"}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphRequestError, "connection_init", err).WithService(sg.Name)
	}

	subscribeMsg := map[string]any{
		"id":   "1",
		"type": "subscribe",
		"payload": graphQLRequestBody{
			Query:     query,
			Variables: variables,
		},
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		conn.Close()
		return nil, gatewayerr.Wrap(gatewayerr.KindSubgraphRequestError, "subscribe", err).WithService(sg.Name)
	}

	out := make(chan Frame)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			default:
			}

			var env struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := conn.ReadJSON(&env); err != nil {
				closeErr, abnormal := classifyClose(err)
				out <- Frame{Closed: true, Err: closeErr}
				_ = abnormal
				return
			}
			switch env.Type {
			case "next":
				out <- Frame{Data: env.Payload}
			case "complete":
				out <- Frame{Closed: true}
				return
			case "error":
				out <- Frame{Closed: true, Err: gatewayerr.New(gatewayerr.KindSubgraphError, string(env.Payload)).WithService(sg.Name)}
				return
			}
		}
	}()
	return out, nil
}

// classifyClose distinguishes a normal subscription end from an
// abnormal one, per spec.md §4.7: "a closed stream propagates as a
// subscription end with a terminal error frame if and only if the
// close was abnormal."
func classifyClose(err error) (error, bool) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, false
	}
	return gatewayerr.Wrap(gatewayerr.KindSubgraphError, "subscription closed abnormally", err), true
}
