// Package jobs implements the asynchronous Job Queue:
// tool invocations that enqueue a background task and are polled by
// bearer token instead of blocking the initial request.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	mcperrors "github.com/open-mcp/mcpbridge/pkg/errors"
	"github.com/open-mcp/mcpbridge/pkg/logger"
	"github.com/open-mcp/mcpbridge/pkg/mcprpc"
	"github.com/open-mcp/mcpbridge/pkg/metrics"
)

// Status is a Job's position in the QUEUED → PROCESSING → COMPLETED|FAILED
// state machine.
type Status string

// Job states.
const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

const (
	jobIDLength   = 15
	jobIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenPrefix   = "tok_"
	tokenBytes    = 32

	ttl              = 24 * time.Hour
	sweepInterval    = 10 * time.Minute
	defaultRetryHint = 10 * time.Second
)

// Job is one enqueued tool invocation and its lifecycle state.
type Job struct {
	ID               string
	Token            string
	ToolName         string
	BackendID        string // empty when dynamic or auto-discovered
	DynamicURL       string // set instead of BackendID for /tool/execute/dynamic
	DynamicAuthToken string
	Parameters       json.RawMessage
	Status           Status
	Result           json.RawMessage
	Error            string
	CreatedAt        time.Time
	StartedAt        time.Time
	ExpiresAt        time.Time
}

// Dispatcher resolves and executes one job's underlying tool call. The
// Queue calls it from a background goroutine once per job; implementations
// cover the three enqueue modes: explicit backend id, dynamic URL, or
// name-based discovery.
//
//go:generate mockgen -destination=mocks/mock_dispatcher.go -package=mocks github.com/open-mcp/mcpbridge/pkg/jobs Dispatcher
type Dispatcher interface {
	Dispatch(ctx context.Context, job *Job) (json.RawMessage, error)
}

// Queue owns the process-wide Job table and bearer tokens.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewQueue builds an empty Queue.
func NewQueue() *Queue {
	return &Queue{jobs: map[string]*Job{}, now: time.Now}
}

// Enqueue creates a Job targeting a registered backend id in QUEUED state
// and starts its background dispatch via run, returning the receipt.
func (q *Queue) Enqueue(ctx context.Context, toolName, backendID string, params json.RawMessage, dispatcher Dispatcher) (*Job, error) {
	mode := "registered"
	if backendID == "" {
		mode = "discover"
	}
	metrics.Get().IncJobEnqueued(ctx, mode)
	return q.enqueue(ctx, func(job *Job) { job.BackendID = backendID }, toolName, params, dispatcher)
}

// EnqueueDynamic creates a Job targeting an unregistered backend reached
// directly by URL, instead of a registry id.
func (q *Queue) EnqueueDynamic(ctx context.Context, toolName, dynamicURL, dynamicAuthToken string, params json.RawMessage, dispatcher Dispatcher) (*Job, error) {
	metrics.Get().IncJobEnqueued(ctx, "dynamic")
	return q.enqueue(ctx, func(job *Job) {
		job.DynamicURL = dynamicURL
		job.DynamicAuthToken = dynamicAuthToken
	}, toolName, params, dispatcher)
}

func (q *Queue) enqueue(ctx context.Context, target func(*Job), toolName string, params json.RawMessage, dispatcher Dispatcher) (*Job, error) {
	id, err := newJobID()
	if err != nil {
		return nil, mcperrors.NewInternalError("generating job id", err)
	}
	token, err := newBearerToken()
	if err != nil {
		return nil, mcperrors.NewInternalError("generating bearer token", err)
	}

	now := q.now()
	job := &Job{
		ID:         id,
		Token:      token,
		ToolName:   toolName,
		Parameters: params,
		Status:     StatusQueued,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	target(job)

	q.mu.Lock()
	q.jobs[id] = job
	q.mu.Unlock()
	metrics.Get().IncJobsInFlight(ctx)

	// The receipt is a snapshot taken before run starts mutating job, so
	// the caller always sees the QUEUED state it was enqueued with.
	receipt := *job
	go q.run(context.WithoutCancel(ctx), job, dispatcher)
	return &receipt, nil
}

func (q *Queue) run(ctx context.Context, job *Job, dispatcher Dispatcher) {
	q.mu.Lock()
	job.Status = StatusProcessing
	job.StartedAt = q.now()
	q.mu.Unlock()

	result, err := dispatcher.Dispatch(ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()
	defer metrics.Get().DecJobsInFlight(ctx)
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		logger.Warnf("jobs: job %s (%s) failed: %v", job.ID, job.ToolName, err)
		return
	}
	job.Status = StatusCompleted
	job.Result = result
}

// pollResult is the body of a successful /results/:job_id response.
type pollResult struct {
	JobID      string    `json:"job_id"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	RetryAfter int       `json:"retry_after,omitempty"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Poll authenticates token against job id and returns its current
// status, unwrapping a COMPLETED result's SSE/HTTP envelope. Expired
// jobs are evicted and reported as Gone.
func (q *Queue) Poll(id, token string) (*pollResult, error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return nil, mcperrors.NewNotFoundError(fmt.Sprintf("job %q is not known", id), nil)
	}

	if token == "" || token != job.Token {
		return nil, mcperrors.NewUnauthorizedError("missing or mismatched bearer token", nil)
	}

	if q.now().After(job.ExpiresAt) {
		q.mu.Lock()
		delete(q.jobs, id)
		q.mu.Unlock()
		return nil, mcperrors.NewGoneError(fmt.Sprintf("job %q has expired", id), nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	switch job.Status {
	case StatusQueued, StatusProcessing:
		return &pollResult{
			JobID:      job.ID,
			Status:     job.Status,
			CreatedAt:  job.CreatedAt,
			StartedAt:  job.StartedAt,
			RetryAfter: int(defaultRetryHint.Seconds()),
		}, nil
	case StatusFailed:
		return &pollResult{JobID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt, Error: job.Error}, nil
	default: // StatusCompleted
		return &pollResult{
			JobID:     job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
			Result:    unwrapEnvelope(job.Result),
		}, nil
	}
}

// List returns every job's public fields, without bearer tokens, for the
// admin GET /jobs listing.
func (q *Queue) List() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		stripped := *job
		stripped.Token = ""
		out = append(out, &stripped)
	}
	return out
}

// Sweep deletes every job past its expires_at. Intended to run every
// sweepInterval.
func (q *Queue) Sweep() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	removed := 0
	for id, job := range q.jobs {
		if now.After(job.ExpiresAt) {
			delete(q.jobs, id)
			removed++
		}
	}
	return removed
}

// RunSweeper blocks, sweeping every sweepInterval, until ctx is done.
func (q *Queue) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := q.Sweep(); n > 0 {
				logger.Infof("jobs: swept %d expired job(s)", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// unwrapEnvelope applies the SSE/HTTP envelope unwrap before returning a
// COMPLETED job's stored result: a string
// payload beginning with "data:" has its remainder parsed as JSON and
// its .result/.content projected out; an object payload has the same
// projection applied directly.
func unwrapEnvelope(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if rest, ok := cutDataPrefix(asString); ok {
			return projectResultOrContent(gjson.Parse(rest))
		}
		return asString
	}

	parsed := gjson.ParseBytes(raw)
	if parsed.IsObject() {
		if projected, ok := tryProject(parsed); ok {
			return projected
		}
	}
	var generic any
	_ = json.Unmarshal(raw, &generic) //nolint:errcheck // best-effort passthrough when it is neither string nor object
	return generic
}

func cutDataPrefix(s string) (string, bool) {
	const prefix = "data:"
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	rest := s[len(prefix):]
	for len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return rest, true
}

func tryProject(parsed gjson.Result) (any, bool) {
	if r := parsed.Get("result"); r.Exists() {
		return jsonValue(r), true
	}
	if c := parsed.Get("content"); c.Exists() {
		return jsonValue(c), true
	}
	return nil, false
}

func projectResultOrContent(parsed gjson.Result) any {
	if v, ok := tryProject(parsed); ok {
		return v
	}
	return jsonValue(parsed)
}

func jsonValue(r gjson.Result) any {
	var v any
	_ = json.Unmarshal([]byte(r.Raw), &v) //nolint:errcheck // gjson guarantees well-formed JSON for r.Raw
	return v
}

func newJobID() (string, error) {
	buf := make([]byte, jobIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(jobIDAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = jobIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func newBearerToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

// DynamicCallConvention controls how EnqueueDynamic's "dynamic URL" mode names
// the method it sends when only mcp_server_url/mcp_auth_token are given:
// "direct" calls the tool name itself as the
// JSON-RPC method, the historical convention these dynamic integrations
// grew up with; "tools_call" wraps it as a standard tools/call instead.
type DynamicCallConvention string

// Supported DynamicCallConvention values.
const (
	DynamicCallDirect    DynamicCallConvention = "direct"
	DynamicCallToolsCall DynamicCallConvention = "tools_call"
)

// DefaultDynamicCallConvention is the convention the REST facade's job
// dispatcher uses for every dynamic job; neither the request nor a backend
// spec selects a different one.
const DefaultDynamicCallConvention = DynamicCallDirect

// BuildDynamicRequest shapes the JSON-RPC call sent over a throwaway
// adapter for dynamic (URL-only) jobs.
func BuildDynamicRequest(convention DynamicCallConvention, toolName string, params json.RawMessage) (method string, body any) {
	var args any
	if len(params) > 0 {
		_ = json.Unmarshal(params, &args) //nolint:errcheck // forwarded as-is; the backend reports its own error on malformed args
	}
	if convention == DynamicCallToolsCall {
		return mcprpc.MethodToolsCall, map[string]any{"name": toolName, "arguments": args}
	}
	return toolName, args
}
