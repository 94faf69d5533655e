// Package inference talks to the external long-running inference service: submit a query,
// then poll its job until a terminal state.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	domainerrors "jan-server/services/research-api/internal/domain/errors"
	"jan-server/services/research-api/internal/domain/job"
	"jan-server/services/research-api/internal/domain/retry"
	"jan-server/services/research-api/internal/infrastructure/metrics"
	"jan-server/services/research-api/internal/infrastructure/observability"
)

const (
	// ThinkingMessage is the synthetic progress emitted right after a job is accepted.
	ThinkingMessage = "Thinking..."
	// EmptyResultMessage replaces a successful job whose result is empty.
	EmptyResultMessage = "The analysis could not be completed. Please try again."
	// UnreachableMessage is surfaced when submitting failed on every attempt.
	UnreachableMessage = "The inference service is unreachable. Please try again later."
	// CancelledMessage ends a loop whose context was cancelled.
	CancelledMessage = "cancelled"

	defaultCacheSize = 512
)

// Config configures the client.
type Config struct {
	BaseURL        string
	AccessKey      string
	DefaultModel   string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	Schedule       PollSchedule
	CacheSize      int
}

// Tick is called after every status request of a polling loop.
type Tick func(ctx context.Context, jobID string)

// Client implements submit, status and the polling protocol over resty.
type Client struct {
	httpClient   *resty.Client
	baseURL      string
	defaultModel string
	submitPolicy retry.Policy
	schedule     PollSchedule
	terminal     *lru.Cache
	log          zerolog.Logger
}

// NewClient creates a resty-backed client.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("inference base URL is empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Schedule.Budget <= 0 {
		cfg.Schedule = DefaultPollSchedule(550 * time.Second)
	}

	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create status cache: %w", err)
	}

	httpClient := resty.New().
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.RequestTimeout).
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			observability.InjectHeaders(req.Context(), req.Header)
			return nil
		})
	if cfg.AccessKey != "" {
		httpClient.SetHeader("Access-Key", cfg.AccessKey)
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		submitPolicy: retry.Linear(cfg.RetryAttempts, cfg.RetryDelay, domainerrors.IsRetryable),
		schedule:     cfg.Schedule,
		terminal:     cache,
		log:          log.With().Str("component", "inference-client").Logger(),
	}, nil
}

// Submit starts a job and returns its id. Only transport failures are retried.
func (c *Client) Submit(ctx context.Context, query, model string) (string, error) {
	if model == "" {
		model = c.defaultModel
	}

	span := trace.SpanFromContext(ctx)
	jobID, err := retry.Do(ctx, c.submitPolicy, func(ctx context.Context, attempt int) (string, error) {
		return c.submitOnce(ctx, query, model)
	}, func(attempt int, err error) {
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("inference submit failed, retrying")
		observability.AddRetryEvent(span, attempt, err.Error())
	})
	if err != nil {
		metrics.RecordInferenceRequest("submit", "error")
		return "", err
	}

	metrics.RecordInferenceRequest("submit", "success")
	c.log.Info().Str("job_id", jobID).Str("model", model).Msg("inference job submitted")
	return jobID, nil
}

func (c *Client) submitOnce(ctx context.Context, query, model string) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(submitRequest{Query: query, Model: model}).
		Post(c.baseURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domainerrors.Wrap(err, domainerrors.KindTransport, "inference service unreachable")
	}

	if resp.IsError() {
		return "", domainerrors.New(domainerrors.KindProtocol,
			fmt.Sprintf("inference service returned %d", resp.StatusCode()))
	}

	var body submitResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", domainerrors.Wrap(err, domainerrors.KindProtocol, "malformed submit response")
	}
	if strings.TrimSpace(body.JobID) == "" {
		return "", domainerrors.ErrMissingJobID
	}
	return body.JobID, nil
}

// Status fetches the current report of a job. Terminal reports are cached.
// An unreachable service or a non-200 reply yields a transport error and a connection_error report.
func (c *Client) Status(ctx context.Context, jobID string) (job.Report, error) {
	if cached, ok := c.terminal.Get(jobID); ok {
		return cached.(job.Report), nil
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(c.baseURL + "/" + url.PathEscape(jobID))
	if err != nil {
		metrics.RecordInferenceRequest("status", "error")
		return job.Report{JobID: jobID, Status: job.StatusConnectionError},
			domainerrors.Wrap(err, domainerrors.KindTransport, "inference service unreachable").WithJob(jobID)
	}
	if resp.StatusCode() != http.StatusOK {
		metrics.RecordInferenceRequest("status", "error")
		return job.Report{JobID: jobID, Status: job.StatusConnectionError},
			domainerrors.New(domainerrors.KindTransport, fmt.Sprintf("status request returned %d", resp.StatusCode())).WithJob(jobID)
	}

	report, err := parseReport(jobID, resp.Body())
	if err != nil {
		metrics.RecordInferenceRequest("status", "invalid")
		return job.Report{JobID: jobID, Status: job.StatusUnknown},
			domainerrors.Wrap(err, domainerrors.KindProtocol, "malformed status payload").WithJob(jobID)
	}

	metrics.RecordInferenceRequest("status", "success")
	if report.Status == job.StatusSuccess || report.Failed() {
		c.terminal.Add(jobID, report)
	}
	return report, nil
}

// JobStatus returns only the normalized status of a job, never failing.
func (c *Client) JobStatus(ctx context.Context, jobID string) job.Status {
	report, err := c.Status(ctx, jobID)
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", jobID).Msg("job status unavailable")
	}
	return report.Status
}

// Track submits query and polls the resulting job. The channel receives Submitted, a
// synthetic Progress, any number of Progress events and exactly one terminal event, then closes.
// The consumer must drain it.
func (c *Client) Track(ctx context.Context, query, model string, onTick ...Tick) <-chan job.Event {
	events := make(chan job.Event, 8)

	go func() {
		defer close(events)

		jobID, err := c.Submit(ctx, query, model)
		if err != nil {
			events <- submitFailure(err)
			return
		}

		events <- job.Submitted{JobID: jobID}
		events <- job.Progress{Message: ThinkingMessage, Transient: true}
		c.poll(ctx, jobID, events, onTick)
	}()

	return events
}

// Resume polls an already submitted job without emitting Submitted.
func (c *Client) Resume(ctx context.Context, jobID string, onTick ...Tick) <-chan job.Event {
	events := make(chan job.Event, 8)

	go func() {
		defer close(events)
		c.poll(ctx, jobID, events, onTick)
	}()

	return events
}

func (c *Client) poll(ctx context.Context, jobID string, events chan<- job.Event, onTick []Tick) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.RecordTrack(outcome, time.Since(start))
	}()

	lastMessage := ""
	for {
		elapsed := time.Since(start)
		if elapsed >= c.schedule.Budget {
			c.log.Warn().Str("job_id", jobID).Dur("elapsed", elapsed).Msg("polling budget exhausted")
			outcome = "timeout"
			events <- job.TimedOut{Elapsed: elapsed}
			return
		}

		timer := time.NewTimer(c.schedule.Interval(elapsed))
		select {
		case <-ctx.Done():
			timer.Stop()
			outcome = "cancelled"
			events <- job.Failed{Message: CancelledMessage, Err: ctx.Err()}
			return
		case <-timer.C:
		}

		report, err := c.Status(ctx, jobID)
		for _, tick := range onTick {
			tick(ctx, jobID)
		}
		if err != nil {
			if ctx.Err() != nil || domainerrors.IsKind(err, domainerrors.KindTransport) {
				c.log.Warn().Err(err).Str("job_id", jobID).Msg("poll skipped")
				continue
			}
			events <- job.Failed{Message: "The inference service returned an invalid response.", Err: err}
			return
		}

		if report.Failed() {
			msg := report.Error
			if msg == "" {
				msg = "unknown error"
			}
			events <- job.Failed{
				Message: msg,
				Err:     domainerrors.New(domainerrors.KindExternalJob, msg).WithJob(jobID),
			}
			return
		}

		if report.Status == job.StatusSuccess {
			result := report.Result
			if strings.TrimSpace(result) == "" {
				result = EmptyResultMessage
			}
			outcome = "success"
			events <- job.Success{Result: result, History: report.History}
			return
		}

		if report.Step != nil && report.Step.Message != "" && report.Step.Message != lastMessage {
			lastMessage = report.Step.Message
			events <- job.Progress{Title: report.Step.Title, Message: report.Step.Message}
		}
	}
}

func submitFailure(err error) job.Failed {
	switch {
	case domainerrors.IsKind(err, domainerrors.KindTransport):
		return job.Failed{Message: UnreachableMessage, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return job.Failed{Message: CancelledMessage, Err: err}
	default:
		return job.Failed{Message: err.Error(), Err: err}
	}
}
