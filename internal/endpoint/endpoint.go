// Package endpoint abstracts the execution site for filesystem commands and
// byte streams: either the local host or a remote host reached over SSH.
// Every privileged operation in the rest of the module — snapshot creation,
// snapshot deletion, subvolume listing, send/receive — goes through this
// interface so that tests can substitute a fake.
package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
)

// Endpoint is the execution site for a command vector. Implementations must
// be safe for concurrent use: a single run touches both a source and a
// destination endpoint concurrently via the pipeline runner.
type Endpoint interface {
	// Exec runs argv synchronously to completion and returns its captured
	// stdout and stderr. A non-zero exit surfaces as *Error.
	Exec(ctx context.Context, argv []string) (stdout, stderr []byte, err error)

	// Command builds an *exec.Cmd that, when started, runs argv on this
	// endpoint. For Local this is a direct child process; for Remote it is
	// an ssh invocation wrapping the shell-quoted argv. The caller owns the
	// returned Cmd's Stdin/Stdout/Stderr wiring and lifecycle (Start/Wait) —
	// this is the primitive the pipeline runner composes stages with.
	Command(ctx context.Context, argv []string) *exec.Cmd

	// ShellQuote renders argv as a single POSIX shell-safe word sequence,
	// suitable for embedding in a remote shell invocation.
	ShellQuote(argv []string) string

	// String renders a human-readable identifier for logs and error context.
	String() string
}

// localChain is implemented by Local (and by anything that embeds it, such
// as a test fake standing in for "a local process chain") to mark an
// endpoint as runnable through a single local chain rather than a joined
// remote shell pipeline.
type localChain interface {
	isLocalChain()
}

// IsLocal reports whether e can run a stage chain as independent local
// processes wired by Go pipes, as opposed to a remote endpoint whose chain
// must be joined into one shell pipeline sent over a single transport
// channel.
func IsLocal(e Endpoint) bool {
	_, ok := e.(localChain)
	return ok
}

// SameHost reports whether a and b are the same execution host: both Local,
// or both Remote with identical (host, port) — the user is excluded from the
// comparison. The pipeline runner uses this to collapse a same-host transfer
// into a single local pipeline with no SSH channel.
func SameHost(a, b Endpoint) bool {
	aIsLocal, bIsLocal := IsLocal(a), IsLocal(b)
	if aIsLocal || bIsLocal {
		return aIsLocal && bIsLocal
	}
	ra, aOK := a.(*Remote)
	rb, bOK := b.(*Remote)
	if !aOK || !bOK {
		return false
	}
	return ra.Host == rb.Host && ra.Port == rb.Port
}

// ParseURL parses an endpoint URL of the form "ssh://[user@]host[:port]/path"
// (remote) or a bare POSIX path (local), per the endpoint URL syntax. It
// returns the endpoint and the path portion, which is the container or
// subvolume path argument for every operation against that endpoint.
func ParseURL(raw string) (ep Endpoint, path string, err error) {
	if !strings.HasPrefix(raw, "ssh://") {
		return &Local{}, raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("endpoint: malformed url %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return nil, "", fmt.Errorf("endpoint: url %q is missing a host", raw)
	}

	port := 22
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, "", fmt.Errorf("endpoint: url %q has an invalid port: %w", raw, err)
		}
	}

	user := ""
	if u.User != nil {
		user = u.User.Username()
	}

	return &Remote{User: user, Host: u.Hostname(), Port: port}, u.Path, nil
}

// Error is the typed failure surfaced by Exec when a command exits non-zero.
// It carries enough context to render a one-line message and, on request, a
// verbose traceback.
type Error struct {
	Endpoint   string
	Argv       []string
	ExitCode   int
	StderrTail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("endpoint %s: command %q exited %d: %s", e.Endpoint, strings.Join(e.Argv, " "), e.ExitCode, e.StderrTail)
}

// maxStderrTail bounds how much stderr is retained for error context; the
// remainder is dropped to avoid an unbounded error message for a chatty
// command.
const maxStderrTail = 4096

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func exitCodeOf(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// runCapture starts cmd, waits for completion, and returns separate stdout
// and stderr buffers. On a non-zero exit it returns *Error with a bounded
// stderr tail rather than the raw exec error.
func runCapture(cmd *exec.Cmd, epName string, argv []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), &Error{
			Endpoint:   epName,
			Argv:       argv,
			ExitCode:   exitCodeOf(err),
			StderrTail: tail(stderr.Bytes(), maxStderrTail),
		}
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
