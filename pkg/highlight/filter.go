package highlight

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
)

// CompileFilter turns a boolean expression over a marker's id, text, color
// and zOrder into a RemoveAll predicate, e.g. `color == "#ffff00"` or
// `zOrder > 12 && text contains "draft"`. An empty source matches all.
func CompileFilter(src string) (func(MarkerInfo) bool, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(MarkerInfo{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("highlight: compile filter: %w", err)
	}
	return func(info MarkerInfo) bool {
		out, err := expr.Run(program, info)
		if err != nil {
			slog.Warn("filter evaluation failed", slog.String("id", info.ID), slog.Any("err", err))
			return false
		}
		matched, _ := out.(bool)
		return matched
	}, nil
}
