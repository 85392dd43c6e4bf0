// Package relay runs the streaming assistant request and reports its
// progress as server-sent events.
package relay

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"fitcoach-gateway/internal/apierror"
	"fitcoach-gateway/internal/assistant"
	"fitcoach-gateway/internal/auth"
	"fitcoach-gateway/internal/command"
	"fitcoach-gateway/internal/llm"
	"fitcoach-gateway/internal/quota"
	"fitcoach-gateway/pkg/logging/logging"
)

// State is the relay's position in one request.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateCompleting
	StateParsing
	StateEmitting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateCompleting:
		return "completing"
	case StateParsing:
		return "parsing"
	case StateEmitting:
		return "emitting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	StageCallingAI = "calling_ai"
	StageParsing   = "parsing"
)

type StatusData struct {
	Stage string `json:"stage"`
}

type ChunkData struct {
	Text string `json:"text"`
}

// Gate admits a request and counts it once it succeeded.
type Gate interface {
	Authorize(ctx context.Context, subject auth.Subject) (*quota.Ticket, error)
	Commit(ctx context.Context, t *quota.Ticket) (int, error)
}

// Pipeline is the assistant's step-wise API.
type Pipeline interface {
	Prepare(kind command.Kind, in assistant.Input) (llm.CompletionRequest, error)
	Complete(ctx context.Context, req llm.CompletionRequest, onDelta func(string)) (assistant.Completion, error)
	Finish(ctx context.Context, kind command.Kind, req llm.CompletionRequest, c assistant.Completion) (command.ParsedCommand, error)
}

// Relay is stateless and safe for concurrent use; each Run logs through the
// request-scoped logger in ctx.
type Relay struct {
	pipeline Pipeline
	gate     Gate
}

func New(pipeline Pipeline, gate Gate) *Relay {
	return &Relay{pipeline: pipeline, gate: gate}
}

// run is one request's state machine.
type run struct {
	*Relay
	out    Emitter
	state  State
	logger *zap.Logger
}

// Run drives one streaming request to exactly one terminal event and
// returns the state it reached before closing along with the failure, if
// any. A cancelled ctx stops the request without caching or counting it.
func (r *Relay) Run(ctx context.Context, out Emitter, subject auth.Subject, kind command.Kind, in assistant.Input) (State, error) {
	rn := &run{
		Relay:  r,
		out:    out,
		state:  StateIdle,
		logger: logging.FromContext(ctx).Named("relay").With(zap.String("kind", string(kind))),
	}
	reached, err := rn.execute(ctx, subject, kind, in)
	if err != nil {
		rn.fail(ctx, err)
	}
	rn.state = StateClosed
	return reached, err
}

func (rn *run) enter(s State) {
	rn.logger.Debug("relay state", zap.Stringer("from", rn.state), zap.Stringer("to", s))
	rn.state = s
}

func (rn *run) execute(ctx context.Context, subject auth.Subject, kind command.Kind, in assistant.Input) (State, error) {
	req, err := rn.pipeline.Prepare(kind, in)
	if err != nil {
		return rn.state, err
	}

	rn.enter(StateAuthorizing)
	ticket, err := rn.gate.Authorize(ctx, subject)
	if err != nil {
		return rn.state, err
	}

	rn.enter(StateCompleting)
	if err := rn.out.Send(EventStatus, StatusData{Stage: StageCallingAI}); err != nil {
		return rn.state, err
	}

	forward := req.ResponseFormat == llm.FormatText
	completion, err := rn.pipeline.Complete(ctx, req, func(delta string) {
		if !forward {
			return
		}
		if err := rn.out.Send(EventChunk, ChunkData{Text: delta}); err != nil {
			rn.logger.Debug("chunk not delivered", zap.Error(err))
		}
	})
	if err != nil {
		return rn.state, err
	}
	if err := ctx.Err(); err != nil {
		return rn.state, err
	}

	if err := rn.out.Send(EventStatus, StatusData{Stage: StageParsing}); err != nil {
		return rn.state, err
	}

	rn.enter(StateParsing)
	cmd, err := rn.pipeline.Finish(ctx, kind, req, completion)
	if err != nil {
		return rn.state, err
	}
	if err := ctx.Err(); err != nil {
		return rn.state, err
	}

	rn.enter(StateEmitting)
	remaining, err := rn.gate.Commit(ctx, ticket)
	if err != nil {
		rn.logger.Warn("usage not recorded for streamed request", zap.Error(err))
	}

	reply := assistant.Reply{Result: cmd, RemainingQuota: remaining, Message: cmd.Summary()}
	if err := rn.out.Send(EventComplete, reply); err != nil {
		// the request succeeded and was counted; only delivery failed
		rn.logger.Info("complete event not delivered", zap.Error(err))
	}
	rn.logger.Info("stream request completed",
		zap.Bool("cached", completion.Cached),
		zap.Int("remaining_quota", remaining),
	)
	return rn.state, nil
}

func (rn *run) fail(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		rn.logger.Info("stream request cancelled", zap.Stringer("state", rn.state))
	} else {
		rn.logger.Warn("stream request failed", zap.Stringer("state", rn.state), zap.Error(err))
	}

	_, body := apierror.Describe(err)
	if sendErr := rn.out.Send(EventError, body); sendErr != nil && !errors.Is(sendErr, ErrStreamClosed) {
		rn.logger.Debug("error event not delivered", zap.Error(sendErr))
	}
}
