package agent

import (
	"context"
	"time"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/model"
)

// BaseAgent bundles identity, the instruction-generating model and logging.
// Embed it in concrete agents and supply a Handle method to satisfy
// core.Handler.
type BaseAgent struct {
	name        string
	description string
	llm         model.Model
	logger      logging.Logger
}

// NewBaseAgent constructs a BaseAgent. A nil logger discards output.
func NewBaseAgent(name, description string, llm model.Model, logger logging.Logger) BaseAgent {
	return BaseAgent{
		name:        name,
		description: description,
		llm:         llm,
		logger:      logging.OrNoOp(logger),
	}
}

// Name returns the handler name of the agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a human-readable description of the agent.
func (b *BaseAgent) Description() string { return b.description }

// complete sends messages to the model and returns the generated text.
func (b *BaseAgent) complete(ctx context.Context, st *core.State, messages []model.Message) (string, error) {
	if b.llm == nil {
		return "", model.ErrEmptyResponse
	}

	start := time.Now()
	text, err := model.Complete(ctx, b.llm, model.Request{Messages: messages})

	info := b.llm.Info()
	args := []any{
		"agent", b.name,
		"model", info.Name,
		"provider", info.Provider,
		"conversation_id", st.ConversationID(),
		"duration", time.Since(start),
	}
	if tl, ok := b.logger.(*logging.TurnLogger); ok {
		tl.WithTurn(st.SessionID, st.ConversationID()).With("agent", b.name).LogModelCall(info.Name, time.Since(start), err)
	} else if err != nil {
		b.logger.Error("agent.model.failed", append(args, "error", err)...)
	} else {
		b.logger.Debug("agent.model.completed", append(args, "chars", len(text))...)
	}
	if err != nil {
		return "", err
	}

	return text, nil
}
