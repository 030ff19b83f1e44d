package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mlsplus/lib/scrapers/enroll/clearance"
	"mlsplus/lib/timezone"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// ErrFetchExhausted is the only failure a caller of Session.Fetch ever
// sees, everything transient is absorbed by the retry loop.
var ErrFetchExhausted = fmt.Errorf("fetch attempts exhausted")

var ErrRefreshFailed = fmt.Errorf("clearance refresh failed")

// Upstream performs the actual offerings call with a given credential.
// *Client implements it.
type Upstream interface {
	FetchOfferings(ctx context.Context, courseCode string, cred clearance.Credentials) (string, error)
}

type SessionOptions struct {
	// url the solver navigates to when refreshing, usually the
	// offerings page itself
	TargetUrl string
	// how long a credential is trusted before it is refreshed
	// ahead of use
	MaxAge time.Duration
	// retry bound for one logical fetch, counted across forced
	// refreshes
	MaxAttempts int
	// fixed wait between attempts
	RetryDelay time.Duration
	// optional credential to start out with, e.g. a cookie lifted
	// from a real browser
	Seed clearance.Credentials
}

// Session owns the clearance credential shared by every fetch in the
// process. Refreshes are expensive (a whole browser run), so
// concurrent requests that notice staleness at the same time share a
// single refresh instead of each starting their own.
type Session struct {
	upstream    Upstream
	solver      clearance.Solver
	targetUrl   string
	maxAge      time.Duration
	maxAttempts int
	retryDelay  time.Duration

	mu          sync.Mutex
	cred        clearance.Credentials
	refreshedAt time.Time

	group singleflight.Group
}

func NewSession(upstream Upstream, solver clearance.Solver, opts SessionOptions) *Session {
	if opts.MaxAge == 0 {
		opts.MaxAge = time.Minute * 10
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second * 2
	}

	s := &Session{
		upstream:    upstream,
		solver:      solver,
		targetUrl:   opts.TargetUrl,
		maxAge:      opts.MaxAge,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
	}
	if opts.Seed.Cookie != "" {
		s.cred = opts.Seed
		s.refreshedAt = timezone.Now()
	}
	return s
}

// Fetch retrieves the raw offerings markup for a course code,
// refreshing the clearance credential as needed. The attempt counter
// is shared across the whole call: a forced refresh does not grant
// extra attempts.
func (s *Session) Fetch(ctx context.Context, courseCode string) (string, error) {
	ctx, span := tracer.Start(ctx, "session:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("course_code", courseCode))

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		cred, err := s.currentCredentials(ctx)
		if err != nil {
			// no credential at all, an upstream call would be pointless
			lastErr = err
			continue
		}

		markup, err := s.upstream.FetchOfferings(ctx, courseCode, cred)
		if err == nil {
			return markup, nil
		}
		lastErr = err

		if errors.Is(err, ErrUpstreamRejected) {
			// the credential lost upstream trust regardless of its
			// age, refresh before the next attempt
			slog.WarnContext(ctx, "upstream rejected request, forcing refresh",
				"course_code", courseCode, "attempt", attempt)
			_, refreshErr := s.refresh(ctx, s.snapshotRefreshedAt())
			if refreshErr != nil {
				slog.WarnContext(ctx, "forced refresh failed", "err", refreshErr)
			}
			continue
		}

		slog.WarnContext(ctx, "upstream call failed, will retry",
			"course_code", courseCode, "attempt", attempt, "err", err)
	}

	fetchExhaustedCounter.Add(ctx, 1)
	span.SetStatus(codes.Error, "fetch attempts exhausted")
	return "", fmt.Errorf("%w: %v", ErrFetchExhausted, lastErr)
}

// currentCredentials returns a usable credential, refreshing first when
// the held one is absent or past its age limit. A failed refresh
// degrades to the previously held credential if there is one.
func (s *Session) currentCredentials(ctx context.Context) (clearance.Credentials, error) {
	s.mu.Lock()
	cred := s.cred
	refreshedAt := s.refreshedAt
	stale := cred.Cookie == "" || timezone.Now().Sub(refreshedAt) > s.maxAge
	s.mu.Unlock()

	if !stale {
		return cred, nil
	}

	fresh, err := s.refresh(ctx, refreshedAt)
	if err == nil {
		return fresh, nil
	}
	if cred.Cookie != "" {
		// degraded, not fatal: a stale cookie sometimes still works,
		// and if it doesn't the rejected branch will retry the refresh
		slog.WarnContext(ctx, "refresh failed, reusing stale credential", "err", err)
		return cred, nil
	}
	return clearance.Credentials{}, err
}

// refresh runs the clearance solver, making sure only one run is in
// flight process-wide. Callers that held a credential refreshed after
// `seen` get the newer credential back without triggering another
// solver run.
func (s *Session) refresh(ctx context.Context, seen time.Time) (clearance.Credentials, error) {
	v, err, _ := s.group.Do("clearance", func() (interface{}, error) {
		s.mu.Lock()
		if s.cred.Cookie != "" && s.refreshedAt.After(seen) {
			cred := s.cred
			s.mu.Unlock()
			return cred, nil
		}
		s.mu.Unlock()

		// the solver run is shared by every waiter, so it must not die
		// with whichever caller happened to start it
		cred, err := s.solver.Solve(context.WithoutCancel(ctx), s.targetUrl)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		}

		s.mu.Lock()
		s.cred = cred
		s.refreshedAt = timezone.Now()
		s.mu.Unlock()

		refreshCounter.Add(ctx, 1)
		slog.InfoContext(ctx, "clearance credential refreshed")
		return cred, nil
	})
	if err != nil {
		return clearance.Credentials{}, err
	}
	return v.(clearance.Credentials), nil
}

func (s *Session) snapshotRefreshedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshedAt
}
