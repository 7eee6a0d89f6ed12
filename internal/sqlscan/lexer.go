// Package sqlscan tokenizes SQL text and pulls out the table names a
// statement touches. It is a display aid: it does not parse SQL and its
// output must never drive safety decisions.
package sqlscan

import (
	"strings"
	"unicode"
)

// Kind classifies a token.
type Kind int

// Token kinds.
const (
	EOF Kind = iota
	Ident
	QuotedIdent
	String
	Number
	Punct
)

// Token is one lexical unit of SQL input.
type Token struct {
	Kind Kind
	Text string // identifier or literal text with quoting removed
	Pos  int    // byte offset of the token start
}

// Lexer splits SQL into tokens. Comments and whitespace are dropped.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

// NewLexer creates a Lexer over input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// Next returns the next token, or a token of kind EOF at end of input.
func (l *Lexer) Next() Token {
	l.skipWhitespaceAndComments()
	start := l.pos

	switch {
	case l.ch == 0:
		return Token{Kind: EOF, Pos: start}
	case l.ch == '\'':
		return Token{Kind: String, Text: l.readQuoted('\''), Pos: start}
	case l.ch == '"':
		return Token{Kind: QuotedIdent, Text: l.readQuoted('"'), Pos: start}
	case l.ch == '`':
		return Token{Kind: QuotedIdent, Text: l.readQuoted('`'), Pos: start}
	case l.ch == '$' && (l.peekChar() == '$' || isLetter(l.peekChar()) || l.peekChar() == '_'):
		if body, ok := l.readDollarQuoted(); ok {
			return Token{Kind: String, Text: body, Pos: start}
		}
		l.readChar()
		return Token{Kind: Punct, Text: "$", Pos: start}
	case isLetter(l.ch) || l.ch == '_':
		return Token{Kind: Ident, Text: l.readIdentifier(), Pos: start}
	case isDigit(l.ch):
		return Token{Kind: Number, Text: l.readNumber(), Pos: start}
	}

	tok := Token{Kind: Punct, Text: string(l.ch), Pos: start}
	l.readChar()
	return tok
}

// Tokens returns every token of input, excluding the trailing EOF.
func Tokens(input string) []Token {
	l := NewLexer(input)
	var out []Token
	for {
		tok := l.Next()
		if tok.Kind == EOF {
			return out
		}
		out = append(out, tok)
	}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for l.ch != 0 {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			continue
		}
		return
	}
}

// readQuoted reads a literal delimited by q, where a doubled q is an escaped q.
func (l *Lexer) readQuoted(q byte) string {
	l.readChar()
	var b strings.Builder
	for l.ch != 0 {
		if l.ch == q {
			if l.peekChar() != q {
				l.readChar()
				break
			}
			l.readChar()
		}
		b.WriteByte(l.ch)
		l.readChar()
	}
	return b.String()
}

// readDollarQuoted reads a PostgreSQL $tag$...$tag$ body. It reports false,
// without consuming input, when the opening tag is not terminated by '$'.
func (l *Lexer) readDollarQuoted() (string, bool) {
	end := strings.IndexByte(l.input[l.readPos:], '$')
	if end < 0 {
		return "", false
	}
	tag := l.input[l.pos : l.readPos+end+1]
	for i := 1; i < len(tag)-1; i++ {
		if !isLetter(tag[i]) && !isDigit(tag[i]) && tag[i] != '_' {
			return "", false
		}
	}

	bodyStart := l.pos + len(tag)
	closeAt := strings.Index(l.input[bodyStart:], tag)
	var body string
	next := len(l.input)
	if closeAt >= 0 {
		body = l.input[bodyStart : bodyStart+closeAt]
		next = bodyStart + closeAt + len(tag)
	} else {
		body = l.input[bodyStart:]
	}
	l.readPos = next
	l.readChar()
	return body, true
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
