package handoff

import (
	"fmt"

	"github.com/hupe1980/relaymesh/core"
)

// ToRouter appends a recovery handoff from source to the router carrying a
// diagnostic context. The turn continues with the router deciding again.
func ToRouter(st *core.State, source, context string) core.Entry {
	return st.Emit(source, core.NewHandoff(core.RouterName, core.Params{
		"original_query":   st.UserInput,
		"context":          context,
		"previous_attempt": fmt.Sprintf("Operation failed in %s", source),
	}))
}

// ToSynthesis appends a handoff from source to the synthesis handler with the
// retrieved content in params.
func ToSynthesis(st *core.State, source string, params core.Params) core.Entry {
	p := params.Clone()
	if p == nil {
		p = core.Params{}
	}
	p["context"] = fmt.Sprintf("Content successfully retrieved from %s", source)
	p["previous_attempt"] = fmt.Sprintf("Content retrieval completed in %s", source)
	return st.Emit(source, core.NewHandoff(core.SynthesisName, p))
}
