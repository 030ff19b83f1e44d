// Package clearance obtains the cookie + user agent pair the enrollment
// site trusts. The actual challenge solving happens in an out-of-process
// browser automation run; this package only knows how to invoke it and
// read its answer.
package clearance

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/enroll/clearance")

var ErrNoClearance = fmt.Errorf("solver did not produce a clearance cookie")

// Credentials is what the upstream site uses to recognize a trusted
// browser session. The cookie is only honored together with the exact
// user agent the solving browser presented.
type Credentials struct {
	Cookie    string `json:"cookie"`
	UserAgent string `json:"user_agent"`
}

type Solver interface {
	Solve(ctx context.Context, targetUrl string) (Credentials, error)
}

type SolverFunc func(ctx context.Context, targetUrl string) (Credentials, error)

func (f SolverFunc) Solve(ctx context.Context, targetUrl string) (Credentials, error) {
	return f(ctx, targetUrl)
}

// CommandSolver runs an external challenge-solving command. The target
// url and a --timeout flag are appended to the configured argv. The
// command reports its result on stdout as "Cookie: ..." and
// "User agent: ..." lines.
type CommandSolver struct {
	Argv    []string      `json:"argv"`
	Timeout time.Duration `json:"-"`
}

func (s CommandSolver) Solve(ctx context.Context, targetUrl string) (Credentials, error) {
	ctx, span := tracer.Start(ctx, "clearance:Solve")
	defer span.End()

	if len(s.Argv) == 0 {
		return Credentials{}, fmt.Errorf("no solver command configured")
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = time.Second * 90
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(
		append([]string{}, s.Argv[1:]...),
		targetUrl,
		"--timeout", strconv.Itoa(int(timeout.Seconds())),
	)
	cmd := exec.CommandContext(ctx, s.Argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.InfoContext(ctx, "running clearance solver", "command", s.Argv[0])
	err := cmd.Run()
	if stderr.Len() > 0 {
		slog.DebugContext(ctx, "solver stderr", "output", stderr.String())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "solver command failed")
		return Credentials{}, fmt.Errorf("clearance solver: %w", err)
	}

	creds, err := ParseSolverOutput(stdout.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "solver output unparsable")
		return Credentials{}, err
	}
	return creds, nil
}

// ParseSolverOutput reads the "Cookie:" and "User agent:" lines the
// solver prints on success. Anything else on stdout is ignored.
func ParseSolverOutput(output []byte) (Credentials, error) {
	var creds Credentials
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Cookie:"); ok {
			creds.Cookie = strings.TrimSpace(rest)
			continue
		}
		if rest, ok := strings.CutPrefix(line, "User agent:"); ok {
			creds.UserAgent = strings.TrimSpace(rest)
		}
	}
	if creds.Cookie == "" || creds.UserAgent == "" {
		return Credentials{}, ErrNoClearance
	}
	return creds, nil
}
