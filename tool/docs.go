package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/handoff"
	"github.com/hupe1980/relaymesh/logging"
)

// DocsOptions configures the document retrieval tool.
type DocsOptions struct {
	Logger logging.Logger
}

// Docs resolves which internal documents are relevant to a query and hands
// their locations to the synthesis agent. It performs no network access.
type Docs struct {
	store  core.DocumentStore
	logger logging.Logger
}

// NewDocs creates the extract_docs_tool handler over store.
func NewDocs(store core.DocumentStore, optFns ...func(o *DocsOptions)) *Docs {
	opts := DocsOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Docs{store: store, logger: logging.OrNoOp(opts.Logger)}
}

// Name implements core.Handler.
func (d *Docs) Name() string { return core.DocsToolName }

// Handle implements core.Handler.
func (d *Docs) Handle(ctx context.Context, st *core.State) error {
	params, _ := handoff.Latest(st.Log, d.Name())
	handoff.MarkConsumed(st.Log, d.Name())

	if d.store == nil {
		fail(st, d.logger, NewToolError(d.Name(), "Error accessing documents: no document store configured", CodeValidation))
		return nil
	}

	names, err := d.store.List(ctx)
	if err != nil {
		terr := NewToolError(d.Name(), fmt.Sprintf("Error accessing documents: %v", err), CodeExecution)
		terr.Err = err
		fail(st, d.logger, terr)
		return nil
	}

	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	specific := make([]string, 0)
	for _, n := range params.Strings("relevant_docs") {
		if _, ok := known[n]; ok {
			specific = append(specific, n)
		} else {
			d.logger.Warn("tool.docs.unknown_document", "document", n)
		}
	}

	out := core.Params{
		"query": params.String("query"),
		"doc_paths": map[string]any{
			"docs_path":      d.store.Location(),
			"specific_files": specific,
		},
	}
	if cq := params.String("comprehensive_question"); cq != "" {
		out["comprehensive_question"] = cq
	}

	d.logger.Debug("tool.docs.resolved", "documents", len(names), "specific", len(specific))
	handoff.ToSynthesis(st, d.Name(), out)
	return nil
}
