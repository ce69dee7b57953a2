package endpoint

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Remote executes commands on a host reached over SSH. The concrete SSH
// transport is intentionally the simplest correct one: shelling out to the
// system ssh client, exactly as the rest of this module shells out to the
// system filesystem and hook commands rather than linking a protocol client.
type Remote struct {
	User string
	Host string
	Port int // 0 means "use the client default", 22 otherwise
}

func (r *Remote) Exec(ctx context.Context, argv []string) ([]byte, []byte, error) {
	return runCapture(r.Command(ctx, argv), r.String(), argv)
}

func (r *Remote) Command(ctx context.Context, argv []string) *exec.Cmd {
	args := r.sshArgs()
	args = append(args, r.ShellQuote(argv))
	return exec.CommandContext(ctx, "ssh", args...)
}

// sshArgs builds the portion of the ssh invocation before the remote command
// string: batch mode (never prompt, so a bad host key or missing password
// fails fast instead of hanging a cron job), the optional port, and the
// [user@]host target.
func (r *Remote) sshArgs() []string {
	args := []string{"-o", "BatchMode=yes"}
	if r.Port != 0 && r.Port != 22 {
		args = append(args, "-p", strconv.Itoa(r.Port))
	}
	args = append(args, r.target())
	return args
}

func (r *Remote) target() string {
	if r.User != "" {
		return r.User + "@" + r.Host
	}
	return r.Host
}

func (r *Remote) ShellQuote(argv []string) string {
	return shellQuote(argv)
}

func (r *Remote) String() string {
	if r.Port != 0 && r.Port != 22 {
		return fmt.Sprintf("ssh://%s:%d", r.Host, r.Port)
	}
	return fmt.Sprintf("ssh://%s", r.Host)
}

// shellQuote renders argv as a sequence of single-quoted POSIX words, safe
// against any byte a path or argument may contain. A single quote inside a
// word is closed, escaped, and reopened: the classic '\'' idiom.
func shellQuote(argv []string) string {
	words := make([]string, len(argv))
	for i, a := range argv {
		words[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(words, " ")
}
