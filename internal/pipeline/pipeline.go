// Package pipeline composes a producer, an optional compressor, an optional
// decompressor, and a consumer into a single streamed pipeline that may cross
// from one endpoint to another. No stage's full output is ever buffered on
// disk or in memory: stages are connected by OS pipes whose backpressure
// stalls the producer exactly as a shell pipeline would.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/snapkeep/snapkeep/internal/endpoint"
)

// Stage is one command running on one endpoint.
type Stage struct {
	Endpoint endpoint.Endpoint
	Argv     []string
}

// ProgressFunc is invoked as bytes flow from the producer towards the
// consumer. It observes the stream without altering it — exactly the
// constraint a progress-meter utility inserted into a shell pipe must
// satisfy. Returning an error cancels the pipeline.
type ProgressFunc func(bytesSoFar int64) error

// Spec describes one end-to-end transfer. Compressor and Decompressor are
// only exercised when Producer and Consumer run on different hosts; a
// same-host transfer omits them along with the SSH channel.
type Spec struct {
	Producer     Stage
	Compressor   *Stage // runs on Producer.Endpoint, immediately before the channel
	Decompressor *Stage // runs on Consumer.Endpoint, immediately after the channel
	Consumer     Stage
	OnProgress   ProgressFunc

	// GracePeriod bounds how long downstream stages are given to drain after
	// the producer is killed on cancellation before they are force-killed.
	GracePeriod time.Duration
}

// StageExit records the outcome of a single stage process.
type StageExit struct {
	Label    string
	Argv     []string
	ExitCode int
}

// Result is the outcome of a full pipeline run.
type Result struct {
	BytesTransferred int64
	Stages           []StageExit
}

// FirstFailure returns the first non-zero stage exit in stage order, or nil
// if every stage exited zero.
func (r *Result) FirstFailure() *StageExit {
	for i := range r.Stages {
		if r.Stages[i].ExitCode != 0 {
			return &r.Stages[i]
		}
	}
	return nil
}

// TransferError is surfaced when a pipeline run fails: it names the first
// stage (in pipeline order) that exited non-zero and its exit code.
type TransferError struct {
	Stage    string
	Argv     []string
	ExitCode int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("pipeline: stage %q (%s) exited %d", e.Stage, strings.Join(e.Argv, " "), e.ExitCode)
}

const defaultGracePeriod = 5 * time.Second

// Run executes spec to completion, returning once every stage has exited.
// The returned error is non-nil iff any stage exited non-zero, in which case
// it is a *TransferError naming the first failure in stage order; remaining
// stages are still allowed to drain so their own diagnostics surface, per
// the poison-pipeline contract.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grace := spec.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	if onProgress := spec.OnProgress; onProgress != nil {
		spec.OnProgress = func(n int64) error {
			err := onProgress(n)
			if err != nil {
				cancel()
			}
			return err
		}
	}

	if endpoint.SameHost(spec.Producer.Endpoint, spec.Consumer.Endpoint) {
		return runSameHost(ctx, spec, grace)
	}
	return runCrossHost(ctx, spec, grace)
}

// runSameHost runs producer and consumer with no SSH channel between them and
// no compressor/decompressor — there is no network boundary to cross, so
// compression would only cost CPU for no benefit. On the local host the two
// run as separate processes joined through the byte counter; on a shared
// remote host they run as one pipeline inside a single ssh invocation.
func runSameHost(ctx context.Context, spec Spec, grace time.Duration) (*Result, error) {
	if endpoint.IsLocal(spec.Producer.Endpoint) {
		spec.Compressor, spec.Decompressor = nil, nil
		return runCrossHost(ctx, spec, grace)
	}
	chain := []namedStage{
		{label: "producer", stage: spec.Producer},
		{label: "consumer", stage: spec.Consumer},
	}
	return runChain(ctx, spec.Producer.Endpoint, chain, nil, spec.OnProgress, grace)
}

// runCrossHost splits the pipeline into a source leg (producer, optional
// compressor) executed on the producer's endpoint and a destination leg
// (optional decompressor, consumer) executed on the consumer's endpoint, and
// connects the two legs' stdio with an in-process pipe. When exactly one
// side is remote this is the single SSH channel the design calls for; when
// both sides are remote and distinct, the local process relays between two
// SSH legs, which is the pragmatic generalisation of the same contract.
func runCrossHost(ctx context.Context, spec Spec, grace time.Duration) (*Result, error) {
	sourceChain := []namedStage{{label: "producer", stage: spec.Producer}}
	if spec.Compressor != nil {
		sourceChain = append(sourceChain, namedStage{label: "compressor", stage: *spec.Compressor})
	}

	destChain := []namedStage{}
	if spec.Decompressor != nil {
		destChain = append(destChain, namedStage{label: "decompressor", stage: *spec.Decompressor})
	}
	destChain = append(destChain, namedStage{label: "consumer", stage: spec.Consumer})

	src, err := startChain(ctx, spec.Producer.Endpoint, sourceChain, nil)
	if err != nil {
		return nil, err
	}

	counter := &countingReader{r: src.stdout, onProgress: spec.OnProgress}
	dst, err := startChain(ctx, spec.Consumer.Endpoint, destChain, counter)
	if err != nil {
		killChain(src)
		return nil, err
	}

	cancelOnCtxDone(ctx, []*runningChain{src, dst}, grace)

	// The destination leg's stdout (the consumer's own stdout, normally
	// empty or diagnostic-only) must still be drained so a chatty consumer
	// can't block on a full pipe before exiting.
	drained := make(chan struct{})
	go func() { io.Copy(io.Discard, dst.stdout); close(drained) }() //nolint:errcheck

	srcExits := src.wait()
	<-drained
	dstExits := dst.wait()

	res := &Result{BytesTransferred: counter.total(), Stages: append(srcExits, dstExits...)}
	if f := res.FirstFailure(); f != nil {
		return res, &TransferError{Stage: f.Label, Argv: f.Argv, ExitCode: f.ExitCode}
	}
	return res, nil
}

// runChain is the same-host convenience wrapper around startChain/wait used
// when the whole pipeline lives on a single endpoint.
func runChain(ctx context.Context, ep endpoint.Endpoint, chain []namedStage, stdin io.Reader, onProgress ProgressFunc, grace time.Duration) (*Result, error) {
	var counter *countingReader
	if onProgress != nil && stdin != nil {
		counter = &countingReader{r: stdin, onProgress: onProgress}
		stdin = counter
	}
	rc, err := startChain(ctx, ep, chain, stdin)
	if err != nil {
		return nil, err
	}
	cancelOnCtxDone(ctx, []*runningChain{rc}, grace)

	// Drain the final stage's stdout; commands like `receive` produce little
	// or no stdout, but it must be consumed so the process can exit.
	var total int64
	if onProgress != nil && counter == nil {
		cr := &countingReader{r: rc.stdout, onProgress: onProgress}
		n, _ := io.Copy(io.Discard, cr)
		total = n
	} else {
		n, _ := io.Copy(io.Discard, rc.stdout)
		total = n
	}
	if counter != nil {
		total = counter.total()
	}

	exits := rc.wait()
	res := &Result{BytesTransferred: total, Stages: exits}
	if f := res.FirstFailure(); f != nil {
		return res, &TransferError{Stage: f.Label, Argv: f.Argv, ExitCode: f.ExitCode}
	}
	return res, nil
}

type namedStage struct {
	label string
	stage Stage
}

// runningChain is one or more OS processes, all on the same endpoint, piped
// stage to stage, with the final stage's stdout exposed for the caller (or
// the next leg) to read.
type runningChain struct {
	cmds    []*exec.Cmd
	labels  []string
	argvs   [][]string
	stderrs []*bytes.Buffer
	stdout  io.ReadCloser
}

// startChain launches chain on ep, piping stdin into the first stage (if
// non-nil) and exposing the last stage's stdout for the caller to consume.
// Local endpoints run each stage as an independent process connected by Go
// pipes; remote endpoints run the whole chain as one shell pipeline inside a
// single SSH invocation, with `set -o pipefail` so the ssh exit code reflects
// the first stage to fail rather than only the last.
func startChain(ctx context.Context, ep endpoint.Endpoint, chain []namedStage, stdin io.Reader) (*runningChain, error) {
	if len(chain) == 0 {
		return nil, errors.New("pipeline: empty stage chain")
	}

	// Processes are not tied to ctx's cancellation: cancelOnCtxDone kills the
	// producer first and the remaining stages only after the grace period.
	ctx = context.WithoutCancel(ctx)

	if !endpoint.IsLocal(ep) {
		return startRemoteChain(ctx, ep, chain, stdin)
	}
	return startLocalChain(ctx, chain, stdin)
}

func startLocalChain(ctx context.Context, chain []namedStage, stdin io.Reader) (*runningChain, error) {
	rc := &runningChain{}
	var prevOut io.ReadCloser

	for i, ns := range chain {
		cmd := ns.stage.Endpoint.Command(ctx, ns.stage.Argv)
		if i == 0 {
			if stdin != nil {
				cmd.Stdin = stdin
			}
		} else {
			cmd.Stdin = prevOut
		}

		var stderrBuf bytes.Buffer
		cmd.Stderr = &stderrBuf

		isLast := i == len(chain)-1
		if isLast {
			out, err := cmd.StdoutPipe()
			if err != nil {
				return nil, fmt.Errorf("pipeline: %s: stdout pipe: %w", ns.label, err)
			}
			rc.stdout = out
		} else {
			out, err := cmd.StdoutPipe()
			if err != nil {
				return nil, fmt.Errorf("pipeline: %s: stdout pipe: %w", ns.label, err)
			}
			prevOut = out
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("pipeline: %s: start: %w", ns.label, err)
		}

		rc.cmds = append(rc.cmds, cmd)
		rc.labels = append(rc.labels, ns.label)
		rc.argvs = append(rc.argvs, ns.stage.Argv)
		rc.stderrs = append(rc.stderrs, &stderrBuf)
	}

	if rc.stdout == nil {
		rc.stdout = io.NopCloser(bytes.NewReader(nil))
	}
	return rc, nil
}

// startRemoteChain joins the stage argvs into one "stageA | stageB" shell
// command and runs it through a single ssh invocation. Because there is
// exactly one process, per-stage exit codes are not individually observable;
// `set -o pipefail` is prepended so a mid-pipe failure still surfaces as a
// non-zero ssh exit, attributed here to the chain's first stage (the
// best-effort label available without a richer remote reporting protocol).
func startRemoteChain(ctx context.Context, ep endpoint.Endpoint, chain []namedStage, stdin io.Reader) (*runningChain, error) {
	parts := make([]string, len(chain))
	for i, ns := range chain {
		parts[i] = ep.ShellQuote(ns.stage.Argv)
	}
	remoteCmd := []string{"sh", "-c", "set -o pipefail; " + strings.Join(parts, " | ")}

	cmd := ep.Command(ctx, remoteCmd)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipeline: remote chain: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("pipeline: remote chain: start: %w", err)
	}

	return &runningChain{
		cmds:    []*exec.Cmd{cmd},
		labels:  []string{chain[0].label},
		argvs:   [][]string{chain[0].stage.Argv},
		stderrs: []*bytes.Buffer{&stderrBuf},
		stdout:  out,
	}, nil
}

// wait waits for every process in the chain and returns their exits in
// stage order. It must be called after the chain's stdout has been fully
// drained (or handed to a downstream leg that drains it), otherwise a
// process can block writing to a full pipe.
func (rc *runningChain) wait() []StageExit {
	exits := make([]StageExit, len(rc.cmds))
	for i, cmd := range rc.cmds {
		code := 0
		if err := cmd.Wait(); err != nil {
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				code = ee.ExitCode()
			} else {
				code = -1
			}
		}
		exits[i] = StageExit{Label: rc.labels[i], Argv: rc.argvs[i], ExitCode: code}
	}
	return exits
}

func killChain(rc *runningChain) {
	for _, cmd := range rc.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// cancelOnCtxDone implements the cancellation contract: the producer (the
// first stage of the first chain) is killed first so downstream stages can
// EOF naturally; if the whole pipeline has not wound down within grace,
// every remaining process is killed too. The caller's own rc.wait() calls
// are what actually reap the processes; this goroutine only decides when to
// escalate from "let it drain" to "kill it".
func cancelOnCtxDone(ctx context.Context, chains []*runningChain, grace time.Duration) {
	if len(chains) == 0 || len(chains[0].cmds) == 0 {
		return
	}
	go func() {
		<-ctx.Done()

		producer := chains[0].cmds[0]
		if producer.Process != nil {
			_ = producer.Process.Kill()
		}

		<-time.After(grace)
		for _, c := range chains {
			killChain(c)
		}
	}()
}

// countingReader wraps a reader, invoking onProgress with the running byte
// total after every read — the Go-native equivalent of inserting a
// progress-meter utility into the pipe: it observes the stream without
// altering the bytes that pass through it.
type countingReader struct {
	r          io.Reader
	onProgress ProgressFunc
	n          int64
	mu         sync.Mutex
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.n += int64(n)
		total := c.n
		c.mu.Unlock()
		if c.onProgress != nil {
			if perr := c.onProgress(total); perr != nil {
				return n, perr
			}
		}
	}
	return n, err
}

func (c *countingReader) total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
