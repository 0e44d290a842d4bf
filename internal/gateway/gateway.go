// Package gateway executes GraphQL operations against the marketplace API and
// classifies every failure as a transport, upstream or protocol error.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/price-follower/internal/obs"
)

const maxBody = 4 << 20

// Credentials supplies the bearer token attached to every call.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// Request is one GraphQL operation.
type Request struct {
	Op        string
	Query     string
	Variables map[string]any
}

// Options configures a Client.
type Options struct {
	URL     string
	Timeout time.Duration
	// RPS paces outgoing calls; zero disables pacing.
	RPS     float64
	Headers map[string]string
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is the remote call gateway.
type Client struct {
	url     string
	http    *http.Client
	creds   Credentials
	headers map[string]string
	limiter *rate.Limiter

	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New builds a gateway client. creds may be nil for unauthenticated endpoints.
func New(opts Options, creds Credentials) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	c := &Client{
		url:     opts.URL,
		http:    hc,
		creds:   creds,
		headers: make(map[string]string, len(opts.Headers)),
		schemas: make(map[string]*jsonschema.Schema),
	}
	for k, v := range opts.Headers {
		if v != "" {
			c.headers[k] = v
		}
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// RegisterSchema compiles a JSON schema that the data payload of op must
// satisfy before it is decoded.
func (c *Client) RegisterSchema(op, schema string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://price-follower.local/schemas/%s.json", op)
	if err := compiler.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema %s load failed: %w", op, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("schema %s compile failed: %w", op, err)
	}
	c.mu.Lock()
	c.schemas[op] = compiled
	c.mu.Unlock()
	return nil
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type gqlError struct {
	Message string `json:"message"`
}

// Execute runs req and decodes its data payload into out (which may be nil).
func (c *Client) Execute(ctx context.Context, req Request, out any) (err error) {
	ctx, span := obs.Tracer().Start(ctx, "graphql "+req.Op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("graphql.operation.name", req.Op)),
	)
	start := time.Now()
	requestID := uuid.NewString()
	status := 0
	defer func() {
		obs.Metrics.RemoteCall(ctx, req.Op, outcome(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		obs.Logger.Debug("remote_call",
			"op", req.Op,
			"request_id", requestID,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"outcome", outcome(err),
		)
	}()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return &TransportError{Op: req.Op, Err: werr}
		}
	}

	payload, merr := json.Marshal(map[string]any{"query": req.Query, "variables": orEmpty(req.Variables)})
	if merr != nil {
		return &ProtocolError{Op: req.Op, Err: fmt.Errorf("encode request: %w", merr)}
	}
	httpReq, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if rerr != nil {
		return &TransportError{Op: req.Op, Err: rerr}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-Id", requestID)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	if c.creds != nil {
		token, terr := c.creds.Token(ctx)
		if terr != nil {
			return &TransportError{Op: req.Op, Err: fmt.Errorf("credentials: %w", terr)}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, derr := c.http.Do(httpReq)
	if derr != nil {
		return &TransportError{Op: req.Op, Err: derr}
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	body, berr := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if berr != nil {
		return &TransportError{Op: req.Op, Err: fmt.Errorf("read body: %w", berr)}
	}
	return c.decode(req.Op, status, body, out)
}

func (c *Client) decode(op string, status int, body []byte, out any) error {
	var env envelope
	perr := json.Unmarshal(body, &env)
	ok := status >= 200 && status < 300

	if perr == nil && present(env.Errors) {
		return &UpstreamError{Op: op, Status: status, Messages: messages(env.Errors)}
	}
	if !ok {
		return &ProtocolError{Op: op, Status: status, Body: truncate(body), Err: perr}
	}
	if perr != nil {
		return &ProtocolError{Op: op, Status: status, Body: truncate(body), Err: fmt.Errorf("decode envelope: %w", perr)}
	}
	if !present(env.Data) {
		return &ProtocolError{Op: op, Status: status, Body: truncate(body), Err: ErrMissingData}
	}

	c.mu.RLock()
	schema := c.schemas[op]
	c.mu.RUnlock()
	if schema != nil {
		var doc any
		if err := json.Unmarshal(env.Data, &doc); err != nil {
			return &ProtocolError{Op: op, Status: status, Err: fmt.Errorf("decode data: %w", err)}
		}
		if err := schema.Validate(doc); err != nil {
			return &ProtocolError{Op: op, Status: status, Body: truncate(env.Data), Err: fmt.Errorf("schema validation failed: %w", err)}
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ProtocolError{Op: op, Status: status, Body: truncate(env.Data), Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// messages extracts error messages; an envelope that is not a list of
// objects is kept verbatim.
func messages(raw json.RawMessage) []string {
	var list []gqlError
	if err := json.Unmarshal(raw, &list); err != nil {
		return []string{strings.TrimSpace(string(raw))}
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Message)
	}
	return out
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func orEmpty(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
