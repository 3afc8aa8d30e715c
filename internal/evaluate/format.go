package evaluate

import (
	"fmt"
	"io"
	"strings"

	"github.com/ohler55/ojg/oj"
)

// WriteText renders r for terminals: one tab-separated row per solution
// under a header of variable names, one N-Quads line per quad, or true/false.
func (r *Result) WriteText(w io.Writer) error {
	switch r.Kind {
	case ResultBoolean:
		_, err := fmt.Fprintln(w, r.Boolean)
		return err
	case ResultQuads:
		for _, q := range r.Quads {
			if _, err := fmt.Fprintln(w, q.String()); err != nil {
				return err
			}
		}
		return nil
	}
	if _, err := fmt.Fprintln(w, strings.Join(r.Vars, "\t")); err != nil {
		return err
	}
	for _, row := range r.Bindings {
		cells := make([]string, len(r.Vars))
		for i, v := range r.Vars {
			if t, ok := row[v]; ok {
				cells[i] = t.String()
			}
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// JSON renders r in the SPARQL 1.1 query results JSON format. Quad
// results, which that format has no shape for, are a list of N-Quads lines
// under "quads".
func (r *Result) JSON() string {
	return oj.JSON(r.jsonValue(), &oj.Options{Indent: 2, Sort: true})
}

func (r *Result) jsonValue() map[string]any {
	switch r.Kind {
	case ResultBoolean:
		return map[string]any{"head": map[string]any{}, "boolean": r.Boolean}
	case ResultQuads:
		quads := make([]any, 0, len(r.Quads))
		for _, q := range r.Quads {
			quads = append(quads, q.String())
		}
		return map[string]any{"quads": quads}
	}
	vars := make([]any, 0, len(r.Vars))
	for _, v := range r.Vars {
		vars = append(vars, v)
	}
	rows := make([]any, 0, len(r.Bindings))
	for _, row := range r.Bindings {
		obj := map[string]any{}
		for v, t := range row {
			cell := map[string]any{"value": t.Value}
			switch {
			case t.IsIRI():
				cell["type"] = "uri"
			case t.IsBlank():
				cell["type"] = "bnode"
			default:
				cell["type"] = "literal"
				if t.Lang != "" {
					cell["xml:lang"] = t.Lang
				} else if t.Datatype != "" {
					cell["datatype"] = t.Datatype
				}
			}
			obj[v] = cell
		}
		rows = append(rows, obj)
	}
	return map[string]any{
		"head":    map[string]any{"vars": vars},
		"results": map[string]any{"bindings": rows},
	}
}
