package pipeline

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapkeep/snapkeep/internal/endpoint"
)

func TestRun_SameHostStreamsBytes(t *testing.T) {
	local := &endpoint.Local{}
	var progressed []int64

	res, err := Run(context.Background(), Spec{
		Producer: Stage{Endpoint: local, Argv: []string{"sh", "-c", "printf hello"}},
		Consumer: Stage{Endpoint: local, Argv: []string{"cat"}},
		OnProgress: func(n int64) error {
			progressed = append(progressed, n)
			return nil
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.BytesTransferred)
	require.Len(t, res.Stages, 2)
	assert.Equal(t, "producer", res.Stages[0].Label)
	assert.Equal(t, 0, res.Stages[0].ExitCode)
	assert.Equal(t, "consumer", res.Stages[1].Label)
	assert.Equal(t, 0, res.Stages[1].ExitCode)
	assert.NotEmpty(t, progressed)
}

func TestRun_SameHostConsumerFailureSurfacesTransferError(t *testing.T) {
	local := &endpoint.Local{}

	res, err := Run(context.Background(), Spec{
		Producer: Stage{Endpoint: local, Argv: []string{"sh", "-c", "printf hello"}},
		Consumer: Stage{Endpoint: local, Argv: []string{"sh", "-c", "cat >/dev/null; exit 7"}},
	})
	require.Error(t, err)

	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "consumer", terr.Stage)
	assert.Equal(t, 7, terr.ExitCode)
	assert.Equal(t, 7, res.FirstFailure().ExitCode)
}

func TestRun_CrossHostSplitsIntoTwoLegs(t *testing.T) {
	local := &endpoint.Local{}
	remoteLike := &loopbackEndpoint{}

	res, err := Run(context.Background(), Spec{
		Producer: Stage{Endpoint: local, Argv: []string{"sh", "-c", "printf world"}},
		Consumer: Stage{Endpoint: remoteLike, Argv: []string{"cat"}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.BytesTransferred)
}

func TestRun_CancellationKillsProducer(t *testing.T) {
	local := &endpoint.Local{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, Spec{
		Producer:    Stage{Endpoint: local, Argv: []string{"sh", "-c", "sleep 5"}},
		Consumer:    Stage{Endpoint: local, Argv: []string{"cat"}},
		GracePeriod: 100 * time.Millisecond,
	})
	assert.Error(t, err)
}

// loopbackEndpoint is a second, distinct endpoint identity backed by the
// real local host, used only to force the cross-host code path in tests
// without requiring a real second machine or an ssh binary. It forwards to
// a named (not embedded) Local so it does not inherit Local's "runs as a
// local chain" marker — from the pipeline's point of view it is a separate,
// non-local host, exactly like a real Remote endpoint would be.
type loopbackEndpoint struct{ local endpoint.Local }

func (l *loopbackEndpoint) Exec(ctx context.Context, argv []string) ([]byte, []byte, error) {
	return l.local.Exec(ctx, argv)
}
func (l *loopbackEndpoint) Command(ctx context.Context, argv []string) *exec.Cmd {
	return l.local.Command(ctx, argv)
}
func (l *loopbackEndpoint) ShellQuote(argv []string) string { return l.local.ShellQuote(argv) }
func (l *loopbackEndpoint) String() string                  { return "loopback" }
