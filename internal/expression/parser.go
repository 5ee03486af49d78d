package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// ExprError is an expression failure located in its source.
type ExprError struct {
	Message string `json:"error_message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

func (e *ExprError) Error() string {
	return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Line, e.Column)
}

func newExprError(pos Pos, format string, args ...any) *ExprError {
	return &ExprError{Message: fmt.Sprintf(format, args...), Line: pos.Line, Column: pos.Column}
}

type Node interface {
	// Name is the column name the node's values appear under.
	Name() string
	Position() Pos
}

type ColumnRef struct {
	Column string
	Pos    Pos
}

func (n *ColumnRef) Name() string  { return n.Column }
func (n *ColumnRef) Position() Pos { return n.Pos }

type Literal struct {
	Value any // float64 or string
	Text  string
	Pos   Pos
}

func (n *Literal) Name() string  { return n.Text }
func (n *Literal) Position() Pos { return n.Pos }

// Call is a function application. Infix operators are calls named by their symbol.
type Call struct {
	Func  string
	Args  []Node
	Alias string
	Infix bool
	Pos   Pos
}

func (n *Call) Name() string {
	if n.Alias != "" {
		return n.Alias
	}
	names := make([]string, len(n.Args))
	for i, a := range n.Args {
		names[i] = a.Name()
	}
	if n.Infix {
		return "(" + strings.Join(names, " "+n.Func+" ") + ")"
	}
	return n.Func + "(" + strings.Join(names, ", ") + ")"
}

func (n *Call) Position() Pos { return n.Pos }

type parser struct {
	toks []TokenItem
	pos  int
}

func (p *parser) peek() TokenItem { return p.toks[p.pos] }

func (p *parser) next() TokenItem {
	tok := p.toks[p.pos]
	if tok.Type != EOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(t Token) (TokenItem, error) {
	tok := p.next()
	if tok.Type != t {
		return tok, unexpected(tok, fmt.Sprintf("expected %q", t.String()))
	}
	return tok, nil
}

func unexpected(tok TokenItem, hint string) *ExprError {
	switch tok.Type {
	case EOF:
		return newExprError(tok.Pos, "Unexpected end of expression, %s", hint)
	case ILLEGAL:
		if strings.HasPrefix(tok.Value, `"`) {
			return newExprError(tok.Pos, "Unterminated column name %s", tok.Value)
		}
		if strings.HasPrefix(tok.Value, `'`) {
			return newExprError(tok.Pos, "Unterminated string literal %s", tok.Value)
		}
		return newExprError(tok.Pos, "Unexpected character %q", tok.Value)
	}
	return newExprError(tok.Pos, "Unexpected token %q, %s", tok.Value, hint)
}

// Parse builds the syntax tree of a single expression.
func Parse(src string) (Node, error) {
	p := &parser{toks: Tokenize(src)}
	if p.peek().Type == EOF {
		return nil, newExprError(p.peek().Pos, "Expression is empty")
	}

	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != EOF {
		return nil, unexpected(tok, "expected end of expression")
	}
	return node, nil
}

// expr := sum (AS string)?
func (p *parser) parseExpr() (Node, error) {
	node, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.peek().Type != AS {
		return node, nil
	}
	as := p.next()
	tok := p.next()
	if tok.Type != COLUMN && tok.Type != STRING && tok.Type != IDENTIFIER {
		return nil, unexpected(tok, "expected a name after AS")
	}
	call, ok := node.(*Call)
	if !ok {
		// aliasing a bare column or literal
		call = &Call{Func: "identity", Args: []Node{node}, Pos: node.Position()}
	}
	if tok.Value == "" {
		return nil, newExprError(as.Pos, "Alias cannot be empty")
	}
	call.Alias = tok.Value
	return call, nil
}

// sum := product (('+'|'-') product)*
func (p *parser) parseSum() (Node, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != PLUS && tok.Type != MINUS {
			return left, nil
		}
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &Call{Func: tok.Value, Args: []Node{left, right}, Infix: true, Pos: tok.Pos}
	}
}

// product := power (('*'|'/'|'%') power)*
func (p *parser) parseProduct() (Node, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != STAR && tok.Type != SLASH && tok.Type != MOD {
			return left, nil
		}
		p.next()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &Call{Func: tok.Value, Args: []Node{left, right}, Infix: true, Pos: tok.Pos}
	}
}

// power := unary ('^' power)?
func (p *parser) parsePower() (Node, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type == CARET {
		p.next()
		exp, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &Call{Func: "^", Args: []Node{base, exp}, Infix: true, Pos: tok.Pos}, nil
	}
	return base, nil
}

// unary := '-' unary | primary
func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type != MINUS {
		return p.parsePrimary()
	}
	p.next()
	if num := p.peek(); num.Type == NUMBER {
		p.next()
		return number(num, "-")
	}
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	zero := &Literal{Value: float64(0), Text: "0", Pos: tok.Pos}
	return &Call{Func: "-", Args: []Node{zero, operand}, Infix: true, Pos: tok.Pos}, nil
}

func number(tok TokenItem, sign string) (Node, error) {
	f, err := strconv.ParseFloat(sign+tok.Value, 64)
	if err != nil {
		return nil, newExprError(tok.Pos, "Invalid number %q", tok.Value)
	}
	return &Literal{Value: f, Text: strconv.FormatFloat(f, 'f', -1, 64), Pos: tok.Pos}, nil
}

// primary := column | number | string | func '(' args ')' | '(' expr ')'
func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.Type {
	case COLUMN:
		if tok.Value == "" {
			return nil, newExprError(tok.Pos, "Column name cannot be empty")
		}
		return &ColumnRef{Column: tok.Value, Pos: tok.Pos}, nil
	case NUMBER:
		return number(tok, "")
	case STRING:
		return &Literal{Value: tok.Value, Text: "'" + tok.Value + "'", Pos: tok.Pos}, nil
	case LPAREN:
		node, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return node, nil
	case IDENTIFIER:
		if p.peek().Type != LPAREN {
			return nil, newExprError(tok.Pos,
				"Unexpected identifier %q, column names must be double-quoted", tok.Value)
		}
		p.next()
		call := &Call{Func: strings.ToLower(tok.Value), Pos: tok.Pos}
		if p.peek().Type == RPAREN {
			p.next()
			return call, nil
		}
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			sep := p.next()
			if sep.Type == RPAREN {
				return call, nil
			}
			if sep.Type != COMMA {
				return nil, unexpected(sep, `expected "," or ")"`)
			}
		}
	}
	return nil, unexpected(tok, "expected a column, number or function call")
}
