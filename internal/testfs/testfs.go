// Package testfs provides a fake filesystem endpoint for orchestrator and
// pipeline scenario tests: it implements the btrfs command vocabulary
// against real directories under a temporary root, rather than a
// real copy-on-write filesystem, which test sandboxes do not have. Every
// command that is not part of the btrfs vocabulary (cat, test, sh, tar) is
// passed straight through to a real local process, so job descriptor I/O
// and shell hooks exercise the genuine code paths.
package testfs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/snapkeep/snapkeep/internal/endpoint"
)

// Endpoint is a btrfs-shaped fake rooted at a real temporary directory. It
// embeds *endpoint.Local anonymously — not for its Exec/Command behaviour,
// which is overridden below, but so it satisfies the same "runs as a local
// process chain" marker the pipeline runner uses to decide whether a
// transfer needs a joined remote shell pipeline. Two testfs endpoints are
// always treated as the same host, which is the only sensible choice for a
// fake that only ever shells out locally.
type Endpoint struct {
	*endpoint.Local
	Label string
}

// New builds a testfs Endpoint. label is used only for String()/error
// messages so a test failure can tell source and destination endpoints
// apart.
func New(label string) *Endpoint {
	return &Endpoint{Local: &endpoint.Local{}, Label: label}
}

func (e *Endpoint) Exec(ctx context.Context, argv []string) ([]byte, []byte, error) {
	if len(argv) > 0 && argv[0] == "btrfs" {
		return runCmd(e.Command(ctx, argv))
	}
	return e.Local.Exec(ctx, argv)
}

// Command translates the btrfs subvolume/send/receive vocabulary into real
// shell one-liners operating on plain directories, and passes everything
// else straight through to a real local process.
func (e *Endpoint) Command(ctx context.Context, argv []string) *exec.Cmd {
	if len(argv) > 0 && argv[0] == "btrfs" {
		script, err := btrfsScript(argv[1:])
		if err != nil {
			return exec.CommandContext(ctx, "sh", "-c", "echo "+err.Error()+" >&2; exit 1")
		}
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	return e.Local.Command(ctx, argv)
}

func (e *Endpoint) String() string { return "testfs:" + e.Label }

// btrfsScript renders the given "subvolume ..." / "send ..." / "receive ..."
// argument vector (btrfs already stripped) as a POSIX shell script.
//
// Snapshot content is never simulated, only its name: send emits the
// snapshot's basename on stdout, receive reads a name from stdin and creates
// an (empty) directory of that name under the target container. This is
// sufficient for every property the orchestrator tests assert — which
// snapshots exist, under which names, transferred via which argv — without
// needing a real incremental-delta format.
func btrfsScript(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("testfs: empty btrfs command")
	}
	switch args[0] {
	case "subvolume":
		return subvolumeScript(args[1:])
	case "send":
		snap := args[len(args)-1]
		return fmt.Sprintf("printf '%%s' %s", shQuote(filepath.Base(snap))), nil
	case "receive":
		dir := args[len(args)-1]
		return fmt.Sprintf("name=$(cat); mkdir -p %s/\"$name\"", shQuote(dir)), nil
	default:
		return "", fmt.Errorf("testfs: unsupported btrfs command %q", args[0])
	}
}

func subvolumeScript(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("testfs: empty subvolume command")
	}
	switch args[0] {
	case "snapshot":
		// snapshot -r SRC DST
		dst := args[len(args)-1]
		return fmt.Sprintf("mkdir -p %s", shQuote(dst)), nil
	case "delete":
		p := args[len(args)-1]
		return fmt.Sprintf("rm -rf %s", shQuote(p)), nil
	case "list":
		container := args[len(args)-1]
		return fmt.Sprintf("mkdir -p %s; for d in %s/*/; do [ -d \"$d\" ] && echo \"ID 0 gen 0 top level 0 path ${d%%/}\"; done", shQuote(container), shQuote(container)), nil
	default:
		return "", fmt.Errorf("testfs: unsupported subvolume command %q", args[0])
	}
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func runCmd(cmd *exec.Cmd) ([]byte, []byte, error) {
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return []byte(stdout.String()), []byte(stderr.String()), fmt.Errorf("%s: %w: %s", cmd.String(), err, strings.TrimSpace(stderr.String()))
	}
	return []byte(stdout.String()), []byte(stderr.String()), nil
}

// MkContainer creates a real empty directory to serve as a container
// subvolume's backing store in tests.
func MkContainer(root string) string {
	if err := os.MkdirAll(root, 0o755); err != nil {
		panic(err)
	}
	return root
}

// ListNames returns the snapshot directory names currently present under
// container, sorted, for test assertions that don't want to go through the
// snapshot package.
func ListNames(container string) []string {
	entries, err := os.ReadDir(container)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
