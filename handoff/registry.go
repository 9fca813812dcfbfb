// Package handoff discovers and consumes instructions addressed to a handler.
//
// Handlers do not receive call arguments. They read the instructions
// addressed to them from the event log and mark them consumed once acted on.
package handoff

import (
	"time"

	"github.com/hupe1980/relaymesh/core"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// Unconsumed returns the parameters of every unconsumed instruction addressed
// to target, in log order. A nil or empty log yields an empty result.
func Unconsumed(log *core.EventLog, target string) []core.Params {
	out := []core.Params{}
	log.View(func(entries []core.Entry) {
		for _, e := range entries {
			for _, in := range core.Instructions(e.Payload) {
				if in.Target == target && !in.IsConsumed() {
					out = append(out, in.Parameters)
				}
			}
		}
	})
	return out
}

// Latest returns the most recent unconsumed instruction parameters for target.
func Latest(log *core.EventLog, target string) (core.Params, bool) {
	pending := Unconsumed(log, target)
	if len(pending) == 0 {
		return nil, false
	}
	p := pending[len(pending)-1]
	if p == nil {
		p = core.Params{}
	}
	return p, true
}

// MarkConsumed marks every unconsumed instruction addressed to target as
// consumed by target. Already consumed instructions keep their marker.
// It returns the number of newly marked instructions.
func MarkConsumed(log *core.EventLog, target string) int {
	marked := 0
	log.Update(func(entries []core.Entry) {
		ts := now()
		for _, e := range entries {
			for _, in := range core.Instructions(e.Payload) {
				if in.Target != target || in.IsConsumed() {
					continue
				}
				in.Consumed = &core.Consumption{Timestamp: ts, ConsumedBy: target}
				marked++
			}
		}
	})
	return marked
}
