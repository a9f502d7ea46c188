package server

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/tidelog/tidelog/internal/model"
)

// entryFilter wraps a compiled CEL program evaluated against query results.
// When disabled, Eval always returns true.
//
// Available variables: timestamp (ns since epoch), tag, message, now_ms.
// Example expressions: `tag == "ERROR"`, `message.contains("timeout")`.
type entryFilter struct {
	prog    cel.Program
	enabled bool
}

func newEntryFilter(expr string) (entryFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return entryFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("tag", cel.StringType),
		cel.Variable("message", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return entryFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return entryFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return entryFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return entryFilter{}, err
	}
	return entryFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against one entry. Evaluation errors count
// as non-matches.
func (f entryFilter) Eval(e model.Entry) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"timestamp": e.Key(),
		"tag":       e.Tag,
		"message":   e.Message,
		"now_ms":    time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (f entryFilter) apply(entries []model.Entry) []model.Entry {
	if !f.enabled {
		return entries
	}
	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if f.Eval(e) {
			out = append(out, e)
		}
	}
	return out
}
