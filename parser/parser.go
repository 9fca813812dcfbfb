// Package parser extracts a structured step payload from free-form model
// output.
//
// Models are asked to answer with a single JSON object but frequently wrap it
// in prose, split string values across lines or emit stray control
// characters. Parse tolerates these near misses and maps the accepted object
// onto the closed core.Payload variant. Anything that does not match one of
// the three payload shapes is rejected here, so handlers never probe keys.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/relaymesh/core"
)

var (
	// ErrNoStructure is returned when no acceptable JSON object is found.
	ErrNoStructure = errors.New("no valid structure found")
	// ErrUnsupportedPayload is returned for objects with an unknown response_type.
	ErrUnsupportedPayload = errors.New("unsupported payload")
)

// Parse extracts the payload contained in text.
func Parse(text string) (core.Payload, error) {
	obj, err := Raw(text)
	if err != nil {
		return nil, err
	}
	return Decode(obj)
}

// Raw returns the first acceptable JSON object contained in text. An object
// is acceptable when it has a response_type or an agent_name key.
func Raw(text string) (map[string]any, error) {
	cleaned := stripControl(text)

	if obj, ok := accept(strings.TrimSpace(cleaned)); ok {
		return obj, nil
	}

	seen := map[string]struct{}{}
	spans := append(candidates(cleaned), widest(cleaned))
	for _, span := range spans {
		if span == "" {
			continue
		}
		if _, dup := seen[span]; dup {
			continue
		}
		seen[span] = struct{}{}

		if obj, ok := accept(span); ok {
			return obj, nil
		}
		if obj, ok := accept(normalize(span)); ok {
			return obj, nil
		}
	}

	return nil, ErrNoStructure
}

func accept(s string) (map[string]any, bool) {
	if s == "" || s[0] != '{' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	if _, ok := obj["response_type"]; ok {
		return obj, true
	}
	if _, ok := obj["agent_name"]; ok {
		return obj, true
	}
	return nil, false
}

// Decode maps an accepted object onto a payload. Historical key variants
// (agent / agent_name / target_name, tool / tool_name, message_to_user) are
// accepted here and nowhere else.
func Decode(obj map[string]any) (core.Payload, error) {
	rt, _ := obj["response_type"].(string)

	switch strings.ToLower(strings.TrimSpace(rt)) {
	case core.TagToolCall:
		items := list(obj["tools"])
		if len(items) == 0 && firstString(obj, "tool", "tool_name") != "" {
			items = []map[string]any{obj}
		}
		tc := &core.ToolCall{Tools: make([]core.Instruction, 0, len(items))}
		for _, item := range items {
			tc.Tools = append(tc.Tools, core.Instruction{
				Target:     firstString(item, "tool_name", "tool", "name"),
				Parameters: params(item["parameters"]),
			})
		}
		return tc, nil

	case core.TagHandoff:
		items := list(obj["agents"])
		if len(items) == 0 && firstString(obj, "agent_name", "agent") != "" {
			items = []map[string]any{obj}
		}
		h := &core.Handoff{Agents: make([]core.Instruction, 0, len(items))}
		for _, item := range items {
			h.Agents = append(h.Agents, core.Instruction{
				Target:     firstString(item, "agent_name", "agent", "target_name"),
				Parameters: params(item["parameters"]),
			})
		}
		return h, nil

	case core.TagTerminal, "final_answer":
		return &core.TerminalResponse{
			Message:           firstString(obj, "message", "message_to_user"),
			Sources:           core.Params(obj).Strings("sources"),
			FollowUpQuestions: core.Params(obj).Strings("follow_up_questions"),
		}, nil

	case "":
		if name := firstString(obj, "agent_name"); name != "" {
			return core.NewHandoff(name, params(obj["parameters"])), nil
		}
		return nil, fmt.Errorf("%w: missing response_type", ErrUnsupportedPayload)

	default:
		return nil, fmt.Errorf("%w: response_type %q", ErrUnsupportedPayload, rt)
	}
}

func list(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func params(v any) core.Params {
	if m, ok := v.(map[string]any); ok {
		return core.Params(m)
	}
	return core.Params{}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
