// Package planner is the gRPC client for the external remediation planner,
// which both builds rollback plans and executes them.
package planner

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"remedy-audit/internal/domain"
)

var (
	_ domain.RollbackPlanner     = (*Client)(nil)
	_ domain.RemediationExecutor = (*Client)(nil)
)

// Metadata keys sent with every call.
const (
	TokenMetadataKey     = "x-planner-token"
	RequestIDMetadataKey = "x-request-id"
)

// DefaultTimeout bounds calls whose context carries no deadline.
const DefaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// Endpoint is grpc://host:port or grpcs://host:port.
	Endpoint string
	Token    string
	// Timeout applies to calls without a caller deadline. 0 means DefaultTimeout.
	Timeout time.Duration
	// BreakerFailures is the number of consecutive transport failures that
	// open the circuit. 0 means 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open. 0 means 30s.
	BreakerCooldown time.Duration
	Logger          *slog.Logger
}

// Client talks to the planner service over gRPC with the JSON codec.
type Client struct {
	conn    *grpc.ClientConn
	token   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient creates a Client. The connection is established lazily, so an
// unreachable planner surfaces on the first call, not here.
func NewClient(opts Options) (*Client, error) {
	EnsureJSONCodec()

	target, secure, err := dialTarget(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial planner: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "planner",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only transport failures count against the planner; a planner that
		// answers "cannot build a plan" is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransportFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("planner circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{conn: conn, token: opts.Token, timeout: timeout, breaker: breaker, logger: logger}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// PreviewRollbackPlan fetches and normalizes the rollback plan for auditID.
// It never returns a plan together with an error.
func (c *Client) PreviewRollbackPlan(ctx context.Context, auditID string) (*domain.RollbackPlan, error) {
	resp := new(PreviewRollbackPlanResponse)
	err := c.invoke(ctx, MethodPreviewRollbackPlan, &PreviewRollbackPlanRequest{AuditID: auditID}, resp)
	if err != nil {
		if isTransportFailure(err) {
			return nil, unavailable(err)
		}
		return nil, &domain.PlanGenerationFailedError{AuditID: auditID, Reason: statusMessage(err)}
	}
	if !resp.Success {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "planner reported failure without detail"
		}
		return nil, &domain.PlanGenerationFailedError{AuditID: auditID, Reason: reason}
	}
	for _, s := range resp.RollbackSteps {
		if s.StepIndex < 0 {
			return nil, &domain.PlanGenerationFailedError{AuditID: auditID, Reason: fmt.Sprintf("malformed plan: negative step index %d", s.StepIndex)}
		}
	}
	return PlanFromWire(auditID, resp), nil
}

// ExecuteRemediationPlan asks the executor to apply plan, last step first.
func (c *Client) ExecuteRemediationPlan(ctx context.Context, auditID string, plan domain.RollbackPlan) error {
	req := &ExecuteRemediationPlanRequest{
		AuditID: auditID,
		Order:   OrderLIFO,
		Plan:    PlanToWire(plan),
	}
	resp := new(ExecuteRemediationPlanResponse)
	err := c.invoke(ctx, MethodExecuteRemediationPlan, req, resp)
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return unavailable(err)
		case status.Code(err) == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
			// The request may have reached the executor; the outcome is unknown.
			return &domain.ExecutorFailureError{
				AuditID: auditID,
				Detail:  "executor did not answer before the deadline; verify the database state manually",
				Cause:   err,
			}
		case isTransportFailure(err):
			return unavailable(err)
		default:
			return &domain.ExecutorFailureError{AuditID: auditID, Detail: statusMessage(err)}
		}
	}
	if !resp.Success {
		detail := strings.TrimSpace(resp.Error)
		if detail == "" {
			detail = "executor reported failure without detail"
		}
		return &domain.ExecutorFailureError{AuditID: auditID, Detail: detail}
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	ctx = c.withMetadata(ctx)

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.conn.Invoke(ctx, method, in, out)
	})
	c.logger.Debug("planner call", "method", method, "duration", time.Since(start), "error", err)
	return err
}

func (c *Client) withMetadata(ctx context.Context) context.Context {
	pairs := []string{TokenMetadataKey, c.token}
	if id := domain.RequestIDFromContext(ctx); id != "" {
		pairs = append(pairs, RequestIDMetadataKey, id)
	}
	return metadata.NewOutgoingContext(ctx, metadata.Pairs(pairs...))
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func dialTarget(endpoint string) (target string, secure bool, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse planner endpoint: %w", err)
	}
	switch scheme := strings.ToLower(strings.TrimSpace(u.Scheme)); scheme {
	case "grpc", "grpcs":
		if u.Host == "" {
			return "", false, fmt.Errorf("planner endpoint host is required")
		}
		return u.Host, scheme == "grpcs", nil
	default:
		return "", false, fmt.Errorf("planner endpoint must use grpc:// or grpcs://, got %q", endpoint)
	}
}

// isTransportFailure reports whether err means the planner was not reached
// (or did not answer) as opposed to answering with an error.
func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unimplemented, codes.Canceled, codes.Unauthenticated:
		return true
	default:
		return false
	}
}

func unavailable(err error) *domain.PlannerUnavailableError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.PlannerUnavailableError{Message: "circuit open after repeated failures", Cause: err}
	}
	return &domain.PlannerUnavailableError{Message: statusMessage(err), Cause: err}
}

func statusMessage(err error) string {
	if st, ok := status.FromError(err); ok {
		return st.Message()
	}
	return err.Error()
}
