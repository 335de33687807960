package revdump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/yuxki/revdump/pkg/dump"
)

// FailureMessage is logged for every request that failed on the network.
const FailureMessage = "HTTP Request failed"

// RetryExhaustedError is returned when a retry cap is configured and the
// same request failed that many times in a row.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d failed attempts: %v", e.Attempts, e.Err)
}

func (e RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Result is what a completed Fetcher.Run accumulated.
type Result struct {
	// RevokedCerts holds every identifier of every page in server order.
	RevokedCerts []string
	// ValidDuration is the value of the last page.
	ValidDuration int64
	// NextSince is the X-Next-Since value of the last page.
	NextSince string
	// Pages is the number of pages received.
	Pages int
	// Failures is the number of requests that failed on the network and were
	// retried.
	Failures int
}

// Record converts the result into the record written by dump.FileWriter.
func (r Result) Record() dump.Record {
	return dump.Record{
		RevokedCerts:  r.RevokedCerts,
		ValidDuration: r.ValidDuration,
		NextSince:     r.NextSince,
	}
}

// Fetcher downloads the whole revocation list page by page. It starts at
// InitialSince, follows X-Next-Since and stops on the first page whose
// Up-To-Date header is "true".
//
// Transport errors are logged and the same request is sent again with the
// same cursor. By default there is no attempt cap and no wait between
// attempts. Every other error ends the run.
type Fetcher struct {
	client      RevocationListClient
	maxAttempts int
	wait        time.Duration
	logger      *zerolog.Logger
}

// FetcherOptionFunc is type of an functional option for revdump.Fetcher.
type FetcherOptionFunc func(*Fetcher)

// WithLogger sets the logger the failure diagnostics are written to.
func WithLogger(logger *zerolog.Logger) FetcherOptionFunc {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithMaxAttempts caps the attempts of a single request. Zero means no cap.
func WithMaxAttempts(n int) FetcherOptionFunc {
	return func(f *Fetcher) {
		f.maxAttempts = n
	}
}

// WithRetryWait sets the pause between two attempts of the same request.
func WithRetryWait(wait time.Duration) FetcherOptionFunc {
	return func(f *Fetcher) {
		f.wait = wait
	}
}

// NewFetcher creates a new instance of revdump.Fetcher.
func NewFetcher(client RevocationListClient, optFuncs ...FetcherOptionFunc) *Fetcher {
	nop := zerolog.Nop()
	f := &Fetcher{
		client: client,
		logger: &nop,
	}

	for _, optF := range optFuncs {
		optF(f)
	}

	return f
}

func (f *Fetcher) waitBeforeRetry(ctx context.Context) error {
	if f.wait <= 0 {
		return ctx.Err()
	}

	select {
	case <-time.After(f.wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) fetchPage(ctx context.Context, since string, res *Result) (Page, error) {
	attempt := 0
	for {
		attempt++

		page, err := f.client.FetchPage(ctx, since)
		if err == nil {
			return page, nil
		}

		// A cancelled run is not a network failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, ctxErr
		}

		var tErr TransportError
		if !errors.As(err, &tErr) {
			return Page{}, err
		}

		res.Failures++
		f.logger.Error().
			Err(err).
			Str("since", since).
			Int("attempt", attempt).
			Msg(FailureMessage)

		if f.maxAttempts > 0 && attempt >= f.maxAttempts {
			return Page{}, RetryExhaustedError{Attempts: attempt, Err: err}
		}

		if err := f.waitBeforeRetry(ctx); err != nil {
			return Page{}, err
		}
	}
}

// Run loops until the server reports the list is up to date and returns
// everything received. On error nothing is returned: the caller must not
// write a partial list.
func (f *Fetcher) Run(ctx context.Context) (Result, error) {
	res := Result{
		RevokedCerts: make([]string, 0),
		NextSince:    InitialSince,
	}
	since := InitialSince

	for {
		page, err := f.fetchPage(ctx, since, &res)
		if err != nil {
			return Result{}, err
		}

		res.RevokedCerts = append(res.RevokedCerts, page.RevokedCerts...)
		res.ValidDuration = page.ValidDuration
		res.NextSince = page.NextSince
		res.Pages++
		since = page.NextSince

		f.logger.Debug().
			Int("page", res.Pages).
			Int("entries", len(page.RevokedCerts)).
			Str("next_since", page.NextSince).
			Bool("up_to_date", page.UpToDate).
			Msg("Revocation list page received.")

		if page.UpToDate {
			break
		}
	}

	f.logger.Debug().
		Int("pages", res.Pages).
		Int("entries", len(res.RevokedCerts)).
		Int("failures", res.Failures).
		Msg("Revocation list download completed.")

	return res, nil
}
