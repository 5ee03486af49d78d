package expression

import (
	"strings"
	"unicode"
)

type Token int

const (
	COLUMN Token = iota
	STRING
	NUMBER
	IDENTIFIER
	AS

	PLUS   // +
	MINUS  // -
	STAR   // *
	SLASH  // /
	MOD    // %
	CARET  // ^
	LPAREN // (
	RPAREN // )
	COMMA  // ,

	EOF
	ILLEGAL
)

var tokens = []string{
	COLUMN:     "COLUMN",
	STRING:     "STRING",
	NUMBER:     "NUMBER",
	IDENTIFIER: "IDENTIFIER",
	AS:         "AS",

	PLUS:   "+",
	MINUS:  "-",
	STAR:   "*",
	SLASH:  "/",
	MOD:    "%",
	CARET:  "^",
	LPAREN: "(",
	RPAREN: ")",
	COMMA:  ",",

	EOF:     "EOF",
	ILLEGAL: "ILLEGAL",
}

func (t Token) String() string { return tokens[t] }

// Pos is a 0-based line and column in the expression source.
type Pos struct {
	Line   int
	Column int
}

type TokenItem struct {
	Type  Token
	Value string
	Pos   Pos
}

type Lexer struct {
	src  []rune
	off  int
	line int
	col  int
}

func NewLexer(input string) *Lexer {
	return &Lexer{src: []rune(input)}
}

func (l *Lexer) peek() rune {
	if l.off >= len(l.src) {
		return 0
	}
	return l.src[l.off]
}

func (l *Lexer) advance() rune {
	r := l.src[l.off]
	l.off++
	if r == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) skipSpace() {
	for l.off < len(l.src) {
		r := l.peek()
		switch {
		case unicode.IsSpace(r):
			l.advance()
		case r == '/' && l.off+1 < len(l.src) && l.src[l.off+1] == '/':
			// line comment
			for l.off < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

// Scan returns the next token. Unterminated quotes come back as ILLEGAL
// with the partial text in Value.
func (l *Lexer) Scan() TokenItem {
	l.skipSpace()
	pos := Pos{l.line, l.col}
	if l.off >= len(l.src) {
		return TokenItem{EOF, "", pos}
	}

	r := l.peek()
	switch r {
	case '"':
		v, ok := l.quoted('"')
		if !ok {
			return TokenItem{ILLEGAL, `"` + v, pos}
		}
		return TokenItem{COLUMN, v, pos}
	case '\'':
		v, ok := l.quoted('\'')
		if !ok {
			return TokenItem{ILLEGAL, `'` + v, pos}
		}
		return TokenItem{STRING, v, pos}
	case '+':
		l.advance()
		return TokenItem{PLUS, "+", pos}
	case '-':
		l.advance()
		return TokenItem{MINUS, "-", pos}
	case '*':
		l.advance()
		return TokenItem{STAR, "*", pos}
	case '/':
		l.advance()
		return TokenItem{SLASH, "/", pos}
	case '%':
		l.advance()
		return TokenItem{MOD, "%", pos}
	case '^':
		l.advance()
		return TokenItem{CARET, "^", pos}
	case '(':
		l.advance()
		return TokenItem{LPAREN, "(", pos}
	case ')':
		l.advance()
		return TokenItem{RPAREN, ")", pos}
	case ',':
		l.advance()
		return TokenItem{COMMA, ",", pos}
	}

	if unicode.IsDigit(r) || (r == '.' && l.off+1 < len(l.src) && unicode.IsDigit(l.src[l.off+1])) {
		return TokenItem{NUMBER, l.number(), pos}
	}

	if r == '_' || unicode.IsLetter(r) {
		var b strings.Builder
		for l.off < len(l.src) {
			r := l.peek()
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			b.WriteRune(l.advance())
		}
		word := b.String()
		if strings.EqualFold(word, "as") {
			return TokenItem{AS, word, pos}
		}
		return TokenItem{IDENTIFIER, word, pos}
	}

	l.advance()
	return TokenItem{ILLEGAL, string(r), pos}
}

func (l *Lexer) quoted(q rune) (string, bool) {
	l.advance()
	var b strings.Builder
	for l.off < len(l.src) {
		r := l.advance()
		switch r {
		case q:
			return b.String(), true
		case '\\':
			if l.off < len(l.src) {
				b.WriteRune(l.advance())
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String(), false
}

func (l *Lexer) number() string {
	var b strings.Builder
	seen_dot := false
	seen_exp := false
	for l.off < len(l.src) {
		r := l.peek()
		switch {
		case unicode.IsDigit(r):
		case r == '.' && !seen_dot && !seen_exp:
			seen_dot = true
		case (r == 'e' || r == 'E') && !seen_exp:
			seen_exp = true
			b.WriteRune(l.advance())
			if p := l.peek(); p == '+' || p == '-' {
				b.WriteRune(l.advance())
			}
			continue
		default:
			return b.String()
		}
		b.WriteRune(l.advance())
	}
	return b.String()
}

// Tokenize scans the whole input, EOF included.
func Tokenize(input string) []TokenItem {
	l := NewLexer(input)
	items := []TokenItem{}
	for {
		tok := l.Scan()
		items = append(items, tok)
		if tok.Type == EOF {
			return items
		}
	}
}
