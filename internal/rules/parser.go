package rules

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Grammar, lowest precedence first:
//
//	expr    = or [ "?" expr ":" expr ]
//	or      = and { ("or" | "||") and }
//	and     = not { ("and" | "&&") not }
//	not     = ("not" | "!") not | cmp
//	cmp     = add [ ("==" | "!=" | "<" | "<=" | ">" | ">=") add ]
//	add     = mul { ("+" | "-") mul }
//	mul     = unary { ("*" | "/" | "%") unary }
//	unary   = "-" unary | primary
//	primary = number | "true" | "false" | ident | ident "(" [ expr { "," expr } ] ")" | "(" expr ")"
type parser struct {
	toks []token
	pos  int
}

// parse builds an expression tree from src.
func parse(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, eris.Errorf("unexpected %s", t)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) expr() (node, error) {
	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokQuestion {
		return cond, nil
	}
	p.next()
	then, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.next(); t.kind != tokColon {
		return nil, eris.Errorf("expected ':' but found %s", t)
	}
	otherwise, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &ternaryExpr{cond: cond, then: then, otherwise: otherwise}, nil
}

func (p *parser) or() (node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("or", "||"); !ok {
			return left, nil
		}
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
}

func (p *parser) and() (node, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("and", "&&"); !ok {
			return left, nil
		}
		p.next()
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
}

func (p *parser) not() (node, error) {
	if _, ok := p.isOp("not", "!"); ok {
		p.next()
		operand, err := p.not()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "not", operand: operand}, nil
	}
	return p.cmp()
}

func (p *parser) cmp() (node, error) {
	left, err := p.add()
	if err != nil {
		return nil, err
	}
	op, ok := p.isOp("==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return left, nil
	}
	p.next()
	right, err := p.add()
	if err != nil {
		return nil, err
	}
	if _, chained := p.isOp("==", "!=", "<=", ">=", "<", ">"); chained {
		return nil, eris.Errorf("chained comparison at %d", p.peek().pos)
	}
	return &binaryExpr{op: op, left: left, right: right}, nil
}

func (p *parser) add() (node, error) {
	left, err := p.mul()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("+", "-")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.mul()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) mul() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	if _, ok := p.isOp("-"); ok {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "-", operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, eris.Errorf("bad number %s", t)
		}
		return &numberLit{v: d}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &boolLit{v: true}, nil
		case "false":
			return &boolLit{v: false}, nil
		case "and", "or", "not":
			return nil, eris.Errorf("unexpected %s", t)
		}
		if p.peek().kind == tokLParen {
			p.next()
			return p.call(t.text)
		}
		return &varRef{name: t.text}, nil
	case tokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, eris.Errorf("expected ')' but found %s", r)
		}
		return n, nil
	}
	return nil, eris.Errorf("unexpected %s", t)
}

func (p *parser) call(fn string) (node, error) {
	c := &callExpr{fn: fn}
	if p.peek().kind == tokRParen {
		p.next()
		return c, nil
	}
	for {
		arg, err := p.expr()
		if err != nil {
			return nil, err
		}
		c.args = append(c.args, arg)
		switch t := p.next(); t.kind {
		case tokComma:
			continue
		case tokRParen:
			return c, nil
		default:
			return nil, eris.Errorf("expected ',' or ')' but found %s", t)
		}
	}
}
