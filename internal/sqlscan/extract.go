package sqlscan

import (
	"sort"
	"strings"
)

// Keywords after which a table reference follows.
var tableIntroducers = map[string]bool{
	"from":       true,
	"join":       true,
	"into":       true,
	"update":     true,
	"table":      true,
	"references": true,
	"truncate":   true,
}

// Keywords that make the next ON name a table (CREATE POLICY p ON t,
// CREATE INDEX i ON t, GRANT ... ON t) rather than a join condition.
var onTargetIntroducers = map[string]bool{
	"policy":  true,
	"index":   true,
	"trigger": true,
	"rule":    true,
	"grant":   true,
	"revoke":  true,
}

// Modifiers that may sit between an introducer and the table name.
var skippable = map[string]bool{
	"only":    true,
	"if":      true,
	"not":     true,
	"exists":  true,
	"lateral": true,
	"table":   true,
}

// Function calls whose argument list uses FROM without naming a table.
var fromArgFunctions = map[string]bool{
	"extract":   true,
	"substring": true,
	"trim":      true,
	"overlay":   true,
	"position":  true,
}

// Words that end a FROM list or cannot be an alias.
var reserved = map[string]bool{
	"where": true, "join": true, "inner": true, "left": true, "right": true, "full": true,
	"cross": true, "natural": true, "on": true, "using": true, "group": true, "order": true,
	"having": true, "limit": true, "offset": true, "union": true, "except": true,
	"intersect": true, "set": true, "values": true, "select": true, "returning": true,
	"window": true, "for": true, "as": true, "with": true, "fetch": true, "default": true,
	"add": true, "drop": true, "alter": true, "rename": true, "enable": true, "disable": true,
	"cascade": true, "restrict": true, "to": true, "owner": true,
}

type scanner struct {
	toks []Token
	i    int
}

func (s *scanner) peek(off int) Token {
	if s.i+off >= len(s.toks) {
		return Token{Kind: EOF}
	}
	return s.toks[s.i+off]
}

func word(t Token) string {
	if t.Kind != Ident {
		return ""
	}
	return strings.ToLower(t.Text)
}

func isPunct(t Token, p string) bool { return t.Kind == Punct && t.Text == p }

// readName reads a possibly schema-qualified name starting at the current
// token. Unquoted parts are folded to lower case.
func (s *scanner) readName() (string, bool) {
	var parts []string
	for {
		t := s.peek(0)
		switch t.Kind {
		case Ident:
			parts = append(parts, strings.ToLower(t.Text))
		case QuotedIdent:
			parts = append(parts, t.Text)
		default:
			return strings.Join(parts, "."), len(parts) > 0
		}
		s.i++
		if !isPunct(s.peek(0), ".") {
			return strings.Join(parts, "."), true
		}
		s.i++
	}
}

// ExtractResources returns the distinct table names referenced by sql,
// compared case-insensitively and sorted. Unparseable input yields whatever
// names could be recognised, possibly none.
func ExtractResources(sql string) []string {
	return collect(nil, sql).sorted()
}

// ExtractAll is ExtractResources over several statements.
func ExtractAll(sqls ...string) []string {
	var set resourceSet
	for _, s := range sqls {
		set = collect(set, s)
	}
	return set.sorted()
}

type resourceSet map[string]string

func (r resourceSet) sorted() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = r[k]
	}
	return out
}

func collect(set resourceSet, sql string) resourceSet {
	if set == nil {
		set = resourceSet{}
	}
	add := func(name string) {
		key := strings.ToLower(name)
		if _, ok := set[key]; !ok {
			set[key] = name
		}
	}

	s := &scanner{toks: Tokens(sql)}
	var parens []bool // true when the paren belongs to a FROM-argument function
	onTarget := false
	prev := ""

	for s.i < len(s.toks) {
		t := s.peek(0)

		if t.Kind == Punct {
			switch t.Text {
			case "(":
				parens = append(parens, fromArgFunctions[prev])
			case ")":
				if len(parens) > 0 {
					parens = parens[:len(parens)-1]
				}
			case ";":
				onTarget = false
				parens = parens[:0]
			}
			prev = ""
			s.i++
			continue
		}

		w := word(t)
		s.i++

		switch {
		case onTargetIntroducers[w]:
			onTarget = true
		case w == "on" && onTarget:
			onTarget = false
			s.skipModifiers()
			if name, ok := s.readName(); ok {
				add(name)
			}
		case tableIntroducers[w]:
			if w == "from" && (prev == "distinct" || (len(parens) > 0 && parens[len(parens)-1])) {
				break
			}
			if w == "table" && prev == "returns" {
				break
			}
			s.skipModifiers()
			if isPunct(s.peek(0), "(") {
				break
			}
			name, ok := s.readName()
			if !ok {
				break
			}
			if (w == "from" || w == "join") && isPunct(s.peek(0), "(") {
				// Table function call, not a relation.
				break
			}
			add(name)
			if w == "from" {
				s.readFromList(add)
			}
		}
		prev = w
	}
	return set
}

func (s *scanner) skipModifiers() {
	for skippable[word(s.peek(0))] {
		s.i++
	}
}

// readFromList consumes "[AS] alias, next_table [alias], ..." after the
// first table of a FROM clause.
func (s *scanner) readFromList(add func(string)) {
	for {
		s.skipAlias()
		if !isPunct(s.peek(0), ",") {
			return
		}
		s.i++
		s.skipModifiers()
		if isPunct(s.peek(0), "(") {
			return
		}
		name, ok := s.readName()
		if !ok {
			return
		}
		if isPunct(s.peek(0), "(") {
			return
		}
		add(name)
	}
}

func (s *scanner) skipAlias() {
	if word(s.peek(0)) == "as" {
		s.i++
	}
	t := s.peek(0)
	if t.Kind == QuotedIdent || (t.Kind == Ident && !reserved[word(t)]) {
		s.i++
	}
}
