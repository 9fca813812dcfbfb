package agent

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/logging"
)

// RespondOptions configures the terminal delivery agent.
type RespondOptions struct {
	Logger logging.Logger
}

// Respond delivers the final answer of a turn. It is the only handler that
// ends the dispatch loop successfully.
type Respond struct {
	BaseAgent
}

// NewRespond creates the respond_to_human agent.
func NewRespond(optFns ...func(o *RespondOptions)) *Respond {
	opts := RespondOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Respond{
		BaseAgent: NewBaseAgent(core.RespondName, "Delivers the final message to the user.", nil, opts.Logger),
	}
}

// Handle implements core.Handler. A missing instruction or message leaves the
// state unchanged and is only logged.
func (r *Respond) Handle(_ context.Context, st *core.State) error {
	params, ok := handoff.Latest(st.Log, r.Name())
	if !ok {
		r.logger.Error("agent.respond.no_instruction", "conversation_id", st.ConversationID())
		return nil
	}

	message := params.String("message_to_user")
	if strings.TrimSpace(message) == "" {
		message = params.String("message")
	}
	if strings.TrimSpace(message) == "" {
		r.logger.Error("agent.respond.no_message", "conversation_id", st.ConversationID())
		return nil
	}

	handoff.MarkConsumed(st.Log, r.Name())

	st.FinalAnswer = message
	st.Sources = params.Strings("sources")
	st.FollowUpQuestions = params.Strings("follow_up_questions")

	st.AppendHistory(core.Turn{
		Role:              core.RoleAssistant,
		Content:           message,
		Timestamp:         time.Now().UTC(),
		Sources:           st.Sources,
		FollowUpQuestions: st.FollowUpQuestions,
	})

	st.Emit(r.Name(), &core.TerminalResponse{
		Message:           message,
		Sources:           st.Sources,
		FollowUpQuestions: st.FollowUpQuestions,
	})
	return nil
}
