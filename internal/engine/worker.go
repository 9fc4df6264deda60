package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/surge/internal/config"
	"github.com/example/surge/internal/dispatch"
	"github.com/example/surge/internal/httpreq"
)

// FatalError wraps a worker's fail-fast condition (spec §4.3 step 2):
// a broken Request Builder invocation means the benchmark configuration
// itself is broken, not that one request failed.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string { return fmt.Sprintf("worker: fatal: %v", e.Cause) }
func (e *FatalError) Unwrap() error { return e.Cause }

// runWorker is one of the C identical cooperative loops spec §4.3
// describes: admit, build, send, report, complete, emit.
//
// It returns a non-nil error only for the fail-fast case; a transport or
// response error during send is recorded as an Outcome, not returned.
func runWorker(ctx context.Context, cfg config.Config, d dispatch.Dispatcher, client *http.Client, outcomes chan<- Outcome, logger zerolog.Logger) error {
	for {
		if !d.AwaitAdmission(ctx) {
			return nil
		}

		req, err := httpreq.BuildRequest(ctx, cfg, client)
		if err != nil {
			logger.Error().Err(err).Msg("request build failed; aborting run")
			d.Complete()
			return &FatalError{Cause: err}
		}

		reqAt := time.Now()
		outcome := execute(client, req, reqAt)

		d.Complete()

		select {
		case outcomes <- outcome:
		case <-ctx.Done():
			return nil
		}
	}
}

// execute sends req and classifies the result into an Outcome. Transport
// errors never panic or bubble up; they become Outcome.Err.
func execute(client *http.Client, req *http.Request, reqAt time.Time) Outcome {
	resp, err := client.Do(req)
	rspAt := time.Now()

	if err != nil {
		return Outcome{
			ReqAt: reqAt,
			RspAt: rspAt,
			Err:   classifyError(err),
		}
	}
	defer resp.Body.Close()
	// Drain the body so the underlying connection can be reused for the
	// next request on this worker; an unread body defeats keep-alive.
	_, _ = io.Copy(io.Discard, resp.Body)

	return Outcome{
		ReqAt:  reqAt,
		RspAt:  rspAt,
		Status: resp.StatusCode,
	}
}

// classifyError derives a stable error_key from a transport failure, per
// spec §4.5's "derive an error_key" classification step.
func classifyError(err error) string {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	return "transport:" + err.Error()
}
