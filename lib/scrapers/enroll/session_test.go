package enroll

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mlsplus/lib/scrapers/enroll/clearance"

	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	calls atomic.Int64
	fn    func(call int64, cred clearance.Credentials) (string, error)
}

func (f *fakeUpstream) FetchOfferings(_ context.Context, _ string, cred clearance.Credentials) (string, error) {
	return f.fn(f.calls.Add(1), cred)
}

type fakeSolver struct {
	calls atomic.Int64
	delay time.Duration
	fn    func(call int64) (clearance.Credentials, error)
}

func (f *fakeSolver) Solve(context.Context, string) (clearance.Credentials, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.fn(n)
}

func testOptions(seed clearance.Credentials) SessionOptions {
	return SessionOptions{
		TargetUrl:   "https://enroll.example.edu/view_course_offerings",
		MaxAge:      time.Minute * 10,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond * 10,
		Seed:        seed,
	}
}

func TestConcurrentFetchesShareOneRefresh(t *testing.T) {
	solver := &fakeSolver{
		delay: time.Millisecond * 50,
		fn: func(int64) (clearance.Credentials, error) {
			return clearance.Credentials{Cookie: "fresh", UserAgent: "ua"}, nil
		},
	}
	upstream := &fakeUpstream{
		fn: func(_ int64, cred clearance.Credentials) (string, error) {
			if cred.Cookie != "fresh" {
				return "", fmt.Errorf("%w: wrong cookie", ErrUpstreamRejected)
			}
			return "<markup>", nil
		},
	}

	// no seed: every caller observes an absent credential at once
	session := NewSession(upstream, solver, testOptions(clearance.Credentials{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = session.Fetch(ctx, "CSADPRG")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, int64(1), solver.calls.Load())
}

func TestRejectedResponseForcesOneRefresh(t *testing.T) {
	solver := &fakeSolver{
		fn: func(int64) (clearance.Credentials, error) {
			return clearance.Credentials{Cookie: "new", UserAgent: "ua"}, nil
		},
	}
	upstream := &fakeUpstream{
		fn: func(_ int64, cred clearance.Credentials) (string, error) {
			if cred.Cookie == "old" {
				return "", fmt.Errorf("%w: challenge page", ErrUpstreamRejected)
			}
			return "<markup attempt 2>", nil
		},
	}

	session := NewSession(upstream, solver, testOptions(clearance.Credentials{
		Cookie: "old", UserAgent: "ua",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	markup, err := session.Fetch(ctx, "CSADPRG")
	require.NoError(t, err)
	require.Equal(t, "<markup attempt 2>", markup)
	require.Equal(t, int64(1), solver.calls.Load())
	require.Equal(t, int64(2), upstream.calls.Load())
}

func TestTransportFailuresExhaustAttempts(t *testing.T) {
	solver := &fakeSolver{
		fn: func(int64) (clearance.Credentials, error) {
			t.Fatal("transport failures must not trigger a refresh")
			return clearance.Credentials{}, nil
		},
	}
	upstream := &fakeUpstream{
		fn: func(int64, clearance.Credentials) (string, error) {
			return "", fmt.Errorf("connection reset")
		},
	}

	session := NewSession(upstream, solver, testOptions(clearance.Credentials{
		Cookie: "seed", UserAgent: "ua",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, err := session.Fetch(ctx, "CSADPRG")
	require.ErrorIs(t, err, ErrFetchExhausted)
	require.Equal(t, int64(3), upstream.calls.Load())
	require.Equal(t, int64(0), solver.calls.Load())
}

func TestRefreshFailureDegradesToStaleCredential(t *testing.T) {
	solver := &fakeSolver{
		fn: func(int64) (clearance.Credentials, error) {
			return clearance.Credentials{}, fmt.Errorf("browser crashed")
		},
	}
	upstream := &fakeUpstream{
		fn: func(_ int64, cred clearance.Credentials) (string, error) {
			require.Equal(t, "stale", cred.Cookie)
			return "<markup>", nil
		},
	}

	opts := testOptions(clearance.Credentials{Cookie: "stale", UserAgent: "ua"})
	opts.MaxAge = time.Nanosecond
	session := NewSession(upstream, solver, opts)
	time.Sleep(time.Millisecond) // guarantee the seed is past its age limit

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	markup, err := session.Fetch(ctx, "CSADPRG")
	require.NoError(t, err)
	require.Equal(t, "<markup>", markup)
	require.GreaterOrEqual(t, solver.calls.Load(), int64(1))
}

func TestRefreshFailureWithoutCredential(t *testing.T) {
	solver := &fakeSolver{
		fn: func(int64) (clearance.Credentials, error) {
			return clearance.Credentials{}, fmt.Errorf("browser crashed")
		},
	}
	upstream := &fakeUpstream{
		fn: func(int64, clearance.Credentials) (string, error) {
			t.Fatal("upstream must not be called without any credential")
			return "", nil
		},
	}

	session := NewSession(upstream, solver, testOptions(clearance.Credentials{}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, err := session.Fetch(ctx, "CSADPRG")
	require.ErrorIs(t, err, ErrFetchExhausted)
	require.Equal(t, int64(0), upstream.calls.Load())
}
