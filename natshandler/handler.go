package natshandler

import (
	"context"
	"encoding/json"
	"fmt"

	"coderunner/model"
	"coderunner/pkg"
	"coderunner/service"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	SubjectExecute      = "coderunner.execute.request"
	SubjectQueue        = "coderunner.queue.request"
	SubjectEventsPrefix = "coderunner.events."

	queueGroup = "coderunner"

	msgBusy = "Server busy: too many executions in progress. Please try again later."
)

// Executor is the orchestrator surface exposed over NATS.
type Executor interface {
	ExecuteDirectly(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult
	ExecuteWithQueue(req model.ExecutionRequest, priority int) (string, error)
	SupportedLanguages() []string
}

type Handler struct {
	svc              Executor
	logger           *zap.Logger
	defaultTimeoutMs int
	maxInFlight      int64
	inFlight         *semaphore.Weighted
}

// NewHandler builds a handler that runs at most maxInFlight direct executions
// at once. Requests beyond that are answered with a busy result.
func NewHandler(svc Executor, logger *zap.Logger, defaultTimeoutMs, maxInFlight int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Handler{
		svc:              svc,
		logger:           logger,
		defaultTimeoutMs: defaultTimeoutMs,
		maxInFlight:      int64(maxInFlight),
		inFlight:         semaphore.NewWeighted(int64(maxInFlight)),
	}
}

// Subscribe registers the request/reply subjects in a shared queue group so
// several instances split the load.
func (h *Handler) Subscribe(nc *nats.Conn) ([]*nats.Subscription, error) {
	execSub, err := nc.QueueSubscribe(SubjectExecute, queueGroup, h.HandleExecuteRequest)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", SubjectExecute, err)
	}
	queueSub, err := nc.QueueSubscribe(SubjectQueue, queueGroup, h.HandleQueueRequest)
	if err != nil {
		_ = execSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", SubjectQueue, err)
	}
	return []*nats.Subscription{execSub, queueSub}, nil
}

// HandleExecuteRequest runs the request and replies with the result. The run
// happens off the subscription goroutine so one slow program does not stall
// delivery.
func (h *Handler) HandleExecuteRequest(msg *nats.Msg) {
	if !h.inFlight.TryAcquire(1) {
		h.logger.Warn("Too many executions in flight, rejecting request",
			zap.String("subject", msg.Subject),
			zap.Int64("maxInFlight", h.maxInFlight))
		h.respond(msg, mustMarshal(model.ExecutionResult{Error: msgBusy}))
		return
	}
	go func() {
		defer h.inFlight.Release(1)
		h.respond(msg, h.executePayload(context.Background(), msg.Data))
	}()
}

func (h *Handler) HandleQueueRequest(msg *nats.Msg) {
	h.respond(msg, h.queuePayload(msg.Data))
}

func (h *Handler) respond(msg *nats.Msg, data []byte) {
	if msg.Reply == "" {
		h.logger.Warn("Dropping reply for request without reply subject", zap.String("subject", msg.Subject))
		return
	}
	if err := msg.Respond(data); err != nil {
		h.logger.Error("Failed to send reply", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (h *Handler) executePayload(ctx context.Context, data []byte) []byte {
	var req model.ExecutionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("Failed to parse execution request", zap.Error(err))
		return mustMarshal(model.ExecutionResult{Error: "Validation failed: malformed request"})
	}

	req, err := pkg.NormalizeRequest(req, h.svc.SupportedLanguages(), h.defaultTimeoutMs)
	if err != nil {
		return mustMarshal(model.ExecutionResult{Error: "Validation failed: " + err.Error()})
	}

	result := h.svc.ExecuteDirectly(service.WithClientIP(ctx, "nats"), req)
	return mustMarshal(result)
}

func (h *Handler) queuePayload(data []byte) []byte {
	var body model.QueueRequest
	if err := json.Unmarshal(data, &body); err != nil {
		h.logger.Warn("Failed to parse queue request", zap.Error(err))
		return mustMarshal(model.QueueReply{Error: "Validation failed: malformed request"})
	}
	priority := 1
	if body.Priority != nil {
		priority = *body.Priority
	}

	req, err := pkg.NormalizeRequest(body.Request, h.svc.SupportedLanguages(), h.defaultTimeoutMs)
	if err != nil {
		return mustMarshal(model.QueueReply{Error: "Validation failed: " + err.Error()})
	}

	jobID, err := h.svc.ExecuteWithQueue(req, priority)
	if err != nil {
		h.logger.Warn("Queued execution rejected", zap.String("language", req.Language), zap.Error(err))
		return mustMarshal(model.QueueReply{Error: err.Error()})
	}
	return mustMarshal(model.QueueReply{JobID: jobID})
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// only plain structs go through here
		panic(err)
	}
	return data
}
