package endpoint

import (
	"context"
	"os/exec"
)

// Local runs commands as child processes of the calling process.
// The zero value is ready to use.
type Local struct{}

func (l *Local) Exec(ctx context.Context, argv []string) ([]byte, []byte, error) {
	if len(argv) == 0 {
		return nil, nil, &Error{Endpoint: l.String(), ExitCode: 2, StderrTail: "empty command vector"}
	}
	return runCapture(l.Command(ctx, argv), l.String(), argv)
}

func (l *Local) Command(ctx context.Context, argv []string) *exec.Cmd {
	if len(argv) == 0 {
		return exec.CommandContext(ctx, "true")
	}
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}

// ShellQuote is provided for interface symmetry with Remote; Local never
// round-trips a command through a shell, so it quotes only for display.
func (l *Local) ShellQuote(argv []string) string {
	return shellQuote(argv)
}

func (l *Local) String() string { return "local" }

// isLocalChain marks l (and anything embedding it) as executable through a
// single local process chain rather than a joined remote shell pipeline —
// see IsLocal.
func (l *Local) isLocalChain() {}
