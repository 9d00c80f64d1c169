package gestiones

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jask/debtdesk/internal/observability"
	"github.com/jask/debtdesk/internal/resilience"
)

var tracer = otel.Tracer("debtdesk/gestiones")

const (
	basePath       = "/gestiones"
	DefaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

var (
	ErrNotFound     = errors.New("gestion not found")
	ErrInvalidBatch = fmt.Errorf("batch must hold between 1 and %d credit numbers", MaxBatchCredits)
)

// TransportError is any failed call: a non-2xx answer (StatusCode set) or a
// request that never got one (Err set).
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("gestiones %s: status %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("gestiones %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("gestiones %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return e.Err
}

type Options struct {
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    *gobreaker.CircuitBreaker
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// Client talks to the remote gestiones API.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	log     *zap.Logger
	metrics *observability.Metrics
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("gestiones: base url required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gestiones: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gestiones: base url %q must be http or https", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	cb := opts.Breaker
	if cb == nil {
		cb = resilience.NewCircuitBreaker("gestiones")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:    base,
		token:   opts.Token,
		http:    hc,
		cb:      cb,
		log:     log.Named("gestiones"),
		metrics: opts.Metrics,
	}, nil
}

// Create stores a new gestion.
func (c *Client) Create(ctx context.Context, dto CreateGestionDto) (Gestion, error) {
	var g Gestion
	err := c.do(ctx, "create", http.MethodPost, basePath, dto, &g)
	return g, err
}

// BatchStatus returns the latest state of each credit number.
func (c *Client) BatchStatus(ctx context.Context, creditNumbers []string) (map[string]*EstadoCredito, error) {
	if len(creditNumbers) == 0 || len(creditNumbers) > MaxBatchCredits {
		return nil, ErrInvalidBatch
	}
	var resp BatchStatusResponse
	if err := c.do(ctx, "batch_status", http.MethodPost, basePath+"/batch-status",
		BatchStatusRequest{NrosCredito: creditNumbers}, &resp); err != nil {
		return nil, err
	}
	if resp.Estados == nil {
		resp.Estados = map[string]*EstadoCredito{}
	}
	return resp.Estados, nil
}

// HistoryByCredit lists every gestion recorded for a credit.
func (c *Client) HistoryByCredit(ctx context.Context, creditNumber string) ([]Gestion, error) {
	var out []Gestion
	err := c.do(ctx, "history", http.MethodGet, basePath+"/credito/"+url.PathEscape(creditNumber), nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (Gestion, error) {
	var g Gestion
	err := c.do(ctx, "get", http.MethodGet, basePath+"/"+url.PathEscape(id), nil, &g)
	return g, err
}

// Update patches the state and/or notes of a gestion.
func (c *Client) Update(ctx context.Context, id string, dto UpdateGestionDto) (Gestion, error) {
	var g Gestion
	err := c.do(ctx, "update", http.MethodPatch, basePath+"/"+url.PathEscape(id), dto, &g)
	return g, err
}

// Delete soft-deletes a gestion on the server.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, basePath+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, "gestiones."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	)

	start := time.Now()
	err := c.call(ctx, op, method, path, in, out)
	c.metrics.ObserveRequest(op, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Debug("request failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gestiones %s: marshal: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	_, err = c.cb.Execute(func() (any, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &TransportError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil, nil
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return te
		}
		// breaker open or too many half-open probes
		return &TransportError{Op: op, Err: err}
	}
	return nil
}
