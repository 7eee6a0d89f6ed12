package sqlscan

import "strings"

// IsDestructive reports whether sql removes objects or data: DROP, TRUNCATE,
// DELETE, or an ALTER that drops something. Like ExtractResources it is a
// heuristic for display and bookkeeping.
func IsDestructive(sql string) bool {
	toks := Tokens(sql)
	if len(toks) == 0 || toks[0].Kind != Ident {
		return false
	}
	switch strings.ToLower(toks[0].Text) {
	case "drop", "truncate", "delete":
		return true
	case "alter":
		for _, t := range toks[1:] {
			if t.Kind == Punct && t.Text == ";" {
				return false
			}
			if t.Kind == Ident && strings.EqualFold(t.Text, "drop") {
				return true
			}
		}
	}
	return false
}
