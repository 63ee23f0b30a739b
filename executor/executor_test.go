package executor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	logrus "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shellScript() LaunchSpec {
	return LaunchSpec{Command: "sh", Args: []string{"-c"}, SourceAsArg: true}
}

func TestRunCapturesStdout(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	res := r.Run(context.Background(), shellScript(), "echo hello", 5*time.Second)

	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.True(t, res.Success)
	assert.Equal(t, "hello\n", res.Output)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(0))
	assert.Equal(t, int64(1), r.Spawned())
}

func TestRunFeedsSourceOnStdin(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	spec := LaunchSpec{Command: "sh", Args: []string{"-s"}}
	res := r.Run(context.Background(), spec, "echo from-stdin", 5*time.Second)

	assert.True(t, res.Success)
	assert.Equal(t, "from-stdin\n", res.Output)
}

func TestRunUsesLaunchEnv(t *testing.T) {
	requireShell(t)
	t.Setenv("CODERUNNER_PARENT_ONLY", "leaked")
	r := NewProcessRunner(1024, quietLogger())

	spec := shellScript()
	spec.Env = []string{"PATH=" + os.Getenv("PATH"), "GREETING=hi"}
	res := r.Run(context.Background(), spec, `echo "$GREETING|$CODERUNNER_PARENT_ONLY"`, 5*time.Second)

	assert.True(t, res.Success, res.Error)
	assert.Equal(t, "hi|\n", res.Output)
}

func TestRunNonZeroExit(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	res := r.Run(context.Background(), shellScript(), "echo oops >&2; exit 3", 5*time.Second)

	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.False(t, res.Success)
	assert.Equal(t, "oops\n", res.Error)
	assert.Empty(t, res.Output)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	start := time.Now()
	res := r.Run(context.Background(), shellScript(), "sleep 5; echo late", 200*time.Millisecond)

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.False(t, res.Success)
	assert.Equal(t, "Execution timeout after 200ms", res.Error)
	assert.Equal(t, int64(200), res.ExecutionTimeMs)
	assert.Empty(t, res.Output)
	assert.Nil(t, res.ExitCode)
}

func TestRunTimeoutKillsChildren(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	start := time.Now()
	res := r.Run(context.Background(), shellScript(), "sleep 5 & sleep 5; wait", 200*time.Millisecond)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunOutputOverflow(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	res := r.Run(context.Background(), shellScript(), "while true; do echo aaaaaaaaaaaaaaaa; done", 5*time.Second)

	assert.Equal(t, OutcomeOverflow, res.Outcome)
	assert.False(t, res.Success)
	assert.Equal(t, "Output size exceeded maximum limit", res.Error)
	assert.Empty(t, res.Output)
}

func TestRunStdoutAtLimitIsNotOverflow(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(4, quietLogger())

	res := r.Run(context.Background(), shellScript(), "printf abcd", 5*time.Second)

	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.Equal(t, "abcd", res.Output)
}

func TestRunTruncatesStderr(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(16, quietLogger())

	res := r.Run(context.Background(), shellScript(), "printf '%050d' 0 >&2", 5*time.Second)

	assert.Equal(t, OutcomeExited, res.Outcome)
	assert.True(t, res.Success)
	assert.Equal(t, strings.Repeat("0", 16)+"... (truncated)", res.Error)
}

func TestRunSpawnError(t *testing.T) {
	r := NewProcessRunner(1024, quietLogger())

	res := r.Run(context.Background(), LaunchSpec{Command: "/nonexistent/interpreter"}, "", time.Second)

	assert.Equal(t, OutcomeSpawnError, res.Outcome)
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Error, "Process error: "), res.Error)
	assert.Equal(t, int64(0), r.Spawned())
}

func TestRunKilledBySignal(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	res := r.Run(context.Background(), shellScript(), "kill -9 $$", 3*time.Second)

	assert.Equal(t, OutcomeKilled, res.Outcome)
	assert.Equal(t, "Process was killed (timeout or resource limit)", res.Error)
	assert.Equal(t, int64(3000), res.ExecutionTimeMs)
}

func TestRunParentCancellation(t *testing.T) {
	requireShell(t)
	r := NewProcessRunner(1024, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := r.Run(ctx, shellScript(), "sleep 5", 2*time.Second)

	assert.Equal(t, OutcomeKilled, res.Outcome)
	assert.Equal(t, int64(2000), res.ExecutionTimeMs)
}

func TestResolverKeepsFirstOutcome(t *testing.T) {
	var r resolver

	assert.True(t, r.resolve(failure(OutcomeTimeout, "first", 1)))
	assert.False(t, r.resolve(failure(OutcomeKilled, "second", 2)))
	assert.Equal(t, OutcomeTimeout, r.result.Outcome)
	assert.Equal(t, "first", r.result.Error)
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(5)

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.hasOverflowed())

	n, err = b.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, b.hasOverflowed())

	select {
	case <-b.overflowed:
	default:
		t.Fatal("overflow channel not closed")
	}

	_, _ = b.Write([]byte("more"))
	assert.Equal(t, "abcde... (truncated)", b.String())
}
