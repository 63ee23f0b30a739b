package natshandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"coderunner/executor"
	"coderunner/model"
	"coderunner/service"

	"github.com/stretchr/testify/assert"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type stubExecutor struct {
	lastReq      model.ExecutionRequest
	lastPriority int
	lastClientIP string
	result       model.ExecutionResult
	queueErr     error
}

func (s *stubExecutor) ExecuteDirectly(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	s.lastReq = req
	s.lastClientIP = service.ClientIP(ctx)
	return s.result
}

func (s *stubExecutor) ExecuteWithQueue(req model.ExecutionRequest, priority int) (string, error) {
	s.lastReq = req
	s.lastPriority = priority
	if s.queueErr != nil {
		return "", s.queueErr
	}
	return "job_1_abc", nil
}

func (s *stubExecutor) SupportedLanguages() []string {
	return []string{"javascript", "python"}
}

// blockingExecutor holds every direct execution until release is closed.
type blockingExecutor struct {
	stubExecutor
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) ExecuteDirectly(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	b.started <- struct{}{}
	<-b.release
	return model.ExecutionResult{Success: true}
}

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingConn) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func TestExecutePayload(t *testing.T) {
	stub := &stubExecutor{result: model.ExecutionResult{Success: true, Output: "hi", ExitCode: model.IntPtr(0), ExecutionTimeMs: 12}}
	h := NewHandler(stub, zaptest.NewLogger(t), 5000, 4)

	reply := h.executePayload(context.Background(), []byte(`{"language":"python","code":"  print('hi')  ","input":"a\u0000b"}`))

	var result model.ExecutionResult
	require.NoError(t, json.Unmarshal(reply, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)

	assert.Equal(t, "print('hi')", stub.lastReq.Code)
	assert.Equal(t, "ab", stub.lastReq.Input)
	assert.Equal(t, 5000, stub.lastReq.TimeoutMs)
	assert.Equal(t, "nats", stub.lastClientIP)
}

func TestExecutePayloadRejectsInvalidRequests(t *testing.T) {
	cases := map[string]string{
		"malformed": `{"language":`,
		"language":  `{"language":"ruby","code":"puts 1"}`,
		"code":      `{"language":"python","code":"   "}`,
		"timeout":   `{"language":"python","code":"print(1)","timeout":50}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			stub := &stubExecutor{}
			h := NewHandler(stub, zaptest.NewLogger(t), 5000, 4)

			var result model.ExecutionResult
			require.NoError(t, json.Unmarshal(h.executePayload(context.Background(), []byte(body)), &result))
			assert.False(t, result.Success)
			assert.Contains(t, result.Error, "Validation failed")
			assert.Empty(t, stub.lastReq.Language, "service must not be called")
		})
	}
}

func TestQueuePayload(t *testing.T) {
	stub := &stubExecutor{}
	h := NewHandler(stub, zaptest.NewLogger(t), 5000, 4)

	reply := h.queuePayload([]byte(`{"request":{"language":"javascript","code":"console.log(1)"},"priority":4}`))

	var out model.QueueReply
	require.NoError(t, json.Unmarshal(reply, &out))
	assert.Equal(t, "job_1_abc", out.JobID)
	assert.Empty(t, out.Error)
	assert.Equal(t, 4, stub.lastPriority)
	assert.Equal(t, "javascript", stub.lastReq.Language)
}

func TestQueuePayloadDefaultsPriority(t *testing.T) {
	stub := &stubExecutor{}
	h := NewHandler(stub, zaptest.NewLogger(t), 5000, 4)

	h.queuePayload([]byte(`{"request":{"language":"python","code":"print(1)"}}`))
	assert.Equal(t, 1, stub.lastPriority)
}

func TestQueuePayloadKeepsExplicitZeroPriority(t *testing.T) {
	stub := &stubExecutor{lastPriority: -1}
	h := NewHandler(stub, zaptest.NewLogger(t), 5000, 4)

	h.queuePayload([]byte(`{"request":{"language":"python","code":"print(1)"},"priority":0}`))
	assert.Equal(t, 0, stub.lastPriority)
}

func TestQueuePayloadReportsQueueFull(t *testing.T) {
	stub := &stubExecutor{queueErr: fmt.Errorf("failed to queue execution: %w", executor.ErrQueueFull)}
	h := NewHandler(stub, zaptest.NewLogger(t), 5000, 4)

	var out model.QueueReply
	require.NoError(t, json.Unmarshal(h.queuePayload([]byte(`{"request":{"language":"python","code":"print(1)"}}`)), &out))
	assert.Empty(t, out.JobID)
	assert.Equal(t, "failed to queue execution: queue is full", out.Error)
}

func TestQueuePayloadRejectsMalformed(t *testing.T) {
	h := NewHandler(&stubExecutor{}, zaptest.NewLogger(t), 5000, 4)

	var out model.QueueReply
	require.NoError(t, json.Unmarshal(h.queuePayload([]byte(`not json`)), &out))
	assert.Contains(t, out.Error, "malformed request")
}

func TestEventPublisher(t *testing.T) {
	conn := &recordingConn{}
	p := NewEventPublisher(conn)
	success := true

	require.NoError(t, p.Publish(model.JobEvent{Type: "jobComplete", JobID: "job_1", Language: "python", Success: &success}))

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "coderunner.events.jobComplete", conn.subjects[0])

	var ev model.JobEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &ev))
	assert.Equal(t, "job_1", ev.JobID)
	require.NotNil(t, ev.Success)
	assert.True(t, *ev.Success)
}

func TestEventPublisherReturnsConnErrors(t *testing.T) {
	boom := errors.New("connection closed")
	p := NewEventPublisher(&recordingConn{err: boom})

	err := p.Publish(model.JobEvent{Type: "jobStart", JobID: "job_2"})
	assert.ErrorIs(t, err, boom)
}

func TestHandleExecuteRequestLimitsInFlight(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	exec := &blockingExecutor{started: make(chan struct{}, 4), release: make(chan struct{})}
	h := NewHandler(exec, zap.New(core), 5000, 1)
	body := []byte(`{"language":"python","code":"print(1)"}`)

	h.HandleExecuteRequest(&nats.Msg{Subject: SubjectExecute, Data: body})
	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first execution did not start")
	}

	h.HandleExecuteRequest(&nats.Msg{Subject: SubjectExecute, Data: body})
	assert.Equal(t, 1, logs.FilterMessage("Too many executions in flight, rejecting request").Len())
	assert.Empty(t, exec.started, "second execution must not start")

	close(exec.release)
	require.Eventually(t, func() bool {
		return h.inFlight.TryAcquire(1)
	}, 2*time.Second, 10*time.Millisecond)
	h.inFlight.Release(1)

	h.HandleExecuteRequest(&nats.Msg{Subject: SubjectExecute, Data: body})
	select {
	case <-exec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("execution after release did not start")
	}
}
