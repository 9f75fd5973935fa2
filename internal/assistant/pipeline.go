// internal/assistant/pipeline.go
package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/signalnine/zabbix-assistant/internal/metrics"
	"github.com/signalnine/zabbix-assistant/internal/protocol"
)

// FallbackReply is patched into a turn whose completion failed
const FallbackReply = "I'm sorry, I encountered an error while processing your request. Please try again."

// Outcome is how a pipeline run ended. Values double as terminal job statuses.
type Outcome string

const (
	OutcomeAnswered Outcome = protocol.JobAnswered
	OutcomeFallback Outcome = protocol.JobFallback
	OutcomeFailed   Outcome = protocol.JobFailed
)

// ConversationStore is the slice of the turn log the pipeline writes to
type ConversationStore interface {
	CompleteTurn(ctx context.Context, id, reply string) (*protocol.ChatTurn, error)
	PatchReply(ctx context.Context, id, reply string) error
	GetTurn(ctx context.Context, id string) (*protocol.ChatTurn, error)
}

// ContextAssembler builds the monitoring snapshot for a user
type ContextAssembler interface {
	Assemble(ctx context.Context, userID string) string
}

// Completer turns a user message plus snapshot into reply text
type Completer interface {
	Complete(ctx context.Context, userText, contextText string) (string, error)
}

// Pipeline answers one pending user turn: assemble context, call the model,
// write the result back. It is the unit of background work.
type Pipeline struct {
	assembler ContextAssembler
	completer Completer
	turns     ConversationStore
	metrics   *metrics.Metrics
}

// NewPipeline wires a pipeline
func NewPipeline(assembler ContextAssembler, completer Completer, turns ConversationStore, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		assembler: assembler,
		completer: completer,
		turns:     turns,
		metrics:   m,
	}
}

// Run answers job.TurnID. It never returns an error or panics: failures are
// logged and leave the conversation in a terminal state.
func (p *Pipeline) Run(ctx context.Context, job protocol.Job) (outcome Outcome) {
	start := time.Now()
	logger := log.With().Str("turn_id", job.TurnID).Str("user_id", job.UserID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("panic", fmt.Sprint(r)).Msg("Response pipeline panicked")
			outcome = OutcomeFailed
		}
		p.metrics.PipelineRun(string(outcome), time.Since(start).Seconds())
	}()

	// A replayed job whose turn already has a reply was answered before a crash
	turn, err := p.turns.GetTurn(ctx, job.TurnID)
	if err != nil {
		logger.Error().Err(err).Msg("Load pending turn")
		return OutcomeFailed
	}
	if turn.ReplyText != "" {
		logger.Info().Msg("Turn already answered, skipping")
		return OutcomeAnswered
	}

	contextText := p.assembler.Assemble(ctx, job.UserID)

	reply, err := p.completer.Complete(ctx, job.Text, contextText)
	if err != nil {
		logger.Warn().Err(err).Str("kind", errorKind(err)).Msg("Completion failed, storing fallback reply")
		if err := p.turns.PatchReply(ctx, job.TurnID, FallbackReply); err != nil {
			logger.Error().Err(err).Msg("Store fallback reply")
			return OutcomeFailed
		}
		return OutcomeFallback
	}

	// Reply and assistant turn commit together; a non-empty reply on replay
	// therefore means the exchange is complete.
	if _, err := p.turns.CompleteTurn(ctx, job.TurnID, reply); err != nil {
		logger.Error().Err(err).Msg("Store reply")
		return OutcomeFailed
	}

	logger.Info().Dur("elapsed", time.Since(start)).Msg("Turn answered")
	return OutcomeAnswered
}
