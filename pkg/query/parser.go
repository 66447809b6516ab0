package query

import (
	"fmt"
	"strconv"
	"strings"
)

type Parser struct {
	tokens []Token
	pos    int

	// bare '?' parameters are numbered in order of appearance
	nextPositional int
}

func NewParser(text string) *Parser {
	return &Parser{tokens: Tokenize(text), nextPositional: 1}
}

// Parse parses a SELECT, FROM-first select, UPDATE or DELETE statement
func Parse(text string) (Statement, error) {
	return NewParser(text).Parse()
}

func (parser *Parser) Parse() (Statement, error) {
	var (
		stmt Statement
		err  error
	)
	switch parser.peek().Type {
	case Select, From:
		stmt, err = parser.parseSelect()
	case Update:
		stmt, err = parser.parseUpdate()
	case Delete:
		stmt, err = parser.parseDelete()
	default:
		return nil, parser.errorf("expected SELECT, FROM, UPDATE or DELETE, found %s", parser.peek())
	}
	if err != nil {
		return nil, err
	}
	if parser.peek().Type != EOF {
		return nil, parser.errorf("unexpected %s", parser.peek())
	}
	return stmt, nil
}

// ============================================================================
// Token helpers
// ============================================================================

func (parser *Parser) peek() Token {
	return parser.tokens[parser.pos]
}

func (parser *Parser) peekAt(n int) Token {
	if parser.pos+n >= len(parser.tokens) {
		return parser.tokens[len(parser.tokens)-1]
	}
	return parser.tokens[parser.pos+n]
}

func (parser *Parser) next() Token {
	token := parser.tokens[parser.pos]
	if token.Type != EOF && token.Type != Illegal {
		parser.pos++
	}
	return token
}

func (parser *Parser) accept(t TokenType) bool {
	if parser.peek().Type == t {
		parser.next()
		return true
	}
	return false
}

func (parser *Parser) expect(t TokenType, what string) (Token, error) {
	token := parser.peek()
	if token.Type != t {
		return token, parser.errorf("expected %s, found %s", what, token)
	}
	return parser.next(), nil
}

func (parser *Parser) errorf(format string, args ...any) error {
	token := parser.peek()
	if token.Type == Illegal {
		return &SyntaxError{Pos: token.Pos, Msg: "illegal input " + strconv.Quote(token.Value)}
	}
	return &SyntaxError{Pos: token.Pos, Msg: fmt.Sprintf(format, args...)}
}

// name accepts an identifier or a keyword used as a name (entity Order)
func (parser *Parser) name(what string) (string, error) {
	token := parser.peek()
	if token.Type == Ident || token.IsKeyword() {
		parser.next()
		return token.Value, nil
	}
	return "", parser.errorf("expected %s, found %s", what, token)
}

// optionalAlias reads "[AS] alias"
func (parser *Parser) optionalAlias() (string, error) {
	if parser.accept(As) {
		token, err := parser.expect(Ident, "alias")
		return token.Value, err
	}
	if parser.peek().Type == Ident {
		return parser.next().Value, nil
	}
	return "", nil
}

// ============================================================================
// Statements
// ============================================================================

func (parser *Parser) parseSelect() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	if parser.accept(Select) {
		stmt.Distinct = parser.accept(Distinct)
		for {
			item, err := parser.parseSelectItem()
			if err != nil {
				return nil, err
			}
			stmt.Items = append(stmt.Items, item)
			if !parser.accept(Comma) {
				break
			}
		}
	}

	if _, err := parser.expect(From, "FROM"); err != nil {
		return nil, err
	}
	for {
		r, err := parser.parseRange(true)
		if err != nil {
			return nil, err
		}
		stmt.From = append(stmt.From, r)

		for {
			join, ok, err := parser.parseJoin()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			stmt.Joins = append(stmt.Joins, join)
		}
		if !parser.accept(Comma) {
			break
		}
	}

	var err error
	if parser.accept(Where) {
		if stmt.Where, err = parser.parseExpr(); err != nil {
			return nil, err
		}
	}

	if parser.accept(Group) {
		if _, err := parser.expect(By, "BY"); err != nil {
			return nil, err
		}
		for {
			e, err := parser.parseAdditive()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, e)
			if !parser.accept(Comma) {
				break
			}
		}
	}

	if parser.accept(Having) {
		if stmt.Having, err = parser.parseExpr(); err != nil {
			return nil, err
		}
	}

	if parser.accept(Order) {
		if _, err := parser.expect(By, "BY"); err != nil {
			return nil, err
		}
		for {
			e, err := parser.parseAdditive()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if parser.accept(Desc) {
				item.Desc = true
			} else {
				parser.accept(Asc)
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if !parser.accept(Comma) {
				break
			}
		}
	}
	return stmt, nil
}

func (parser *Parser) parseSelectItem() (SelectItem, error) {
	var (
		e   Expr
		err error
	)
	if parser.peek().Type == New {
		e, err = parser.parseConstructor()
	} else {
		e, err = parser.parseAdditive()
	}
	if err != nil {
		return SelectItem{}, err
	}
	alias, err := parser.optionalAlias()
	return SelectItem{Expr: e, Alias: alias}, err
}

func (parser *Parser) parseConstructor() (Expr, error) {
	parser.next() // NEW
	name, err := parser.name("entity name")
	if err != nil {
		return nil, err
	}
	// package-qualified names keep only the last segment
	for parser.accept(Dot) {
		if name, err = parser.name("entity name"); err != nil {
			return nil, err
		}
	}
	if _, err := parser.expect(ParenOpen, "("); err != nil {
		return nil, err
	}
	c := &Constructor{Entity: name}
	for {
		arg, err := parser.parseAdditive()
		if err != nil {
			return nil, err
		}
		alias, err := parser.optionalAlias()
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, SelectItem{Expr: arg, Alias: alias})
		if !parser.accept(Comma) {
			break
		}
	}
	if _, err := parser.expect(ParenClose, ")"); err != nil {
		return nil, err
	}
	return c, nil
}

func (parser *Parser) parseRange(requireAlias bool) (Range, error) {
	entity, err := parser.name("entity name")
	if err != nil {
		return Range{}, err
	}
	alias, err := parser.optionalAlias()
	if err != nil {
		return Range{}, err
	}
	if alias == "" && requireAlias {
		// FROM Customer behaves as FROM Customer customer
		alias = strings.ToLower(entity[:1]) + entity[1:]
	}
	return Range{Entity: entity, Alias: alias}, nil
}

func (parser *Parser) parseJoin() (Join, bool, error) {
	join := Join{Kind: InnerJoin}
	switch parser.peek().Type {
	case Left:
		parser.next()
		parser.accept(Outer)
		join.Kind = LeftJoin
	case Inner:
		parser.next()
	case KwJoin:
	default:
		return join, false, nil
	}
	if _, err := parser.expect(KwJoin, "JOIN"); err != nil {
		return join, false, err
	}
	join.Fetch = parser.accept(KwFetch)

	path, err := parser.parsePath()
	if err != nil {
		return join, false, err
	}
	if len(path.Parts) < 2 {
		return join, false, &SyntaxError{Pos: path.Pos, Msg: "join needs an association path"}
	}
	join.Path = path
	if join.Alias, err = parser.optionalAlias(); err != nil {
		return join, false, err
	}
	return join, true, nil
}

func (parser *Parser) parseUpdate() (*UpdateStatement, error) {
	parser.next() // UPDATE
	target, err := parser.parseRange(false)
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Target: target}
	if _, err := parser.expect(Set, "SET"); err != nil {
		return nil, err
	}
	for {
		path, err := parser.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(Equals, "="); err != nil {
			return nil, err
		}
		value, err := parser.parseAdditive()
		if err != nil {
			return nil, err
		}
		stmt.Sets = append(stmt.Sets, Assignment{Path: path, Value: value})
		if !parser.accept(Comma) {
			break
		}
	}
	if parser.accept(Where) {
		if stmt.Where, err = parser.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (parser *Parser) parseDelete() (*DeleteStatement, error) {
	parser.next() // DELETE
	parser.accept(From)
	target, err := parser.parseRange(false)
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Target: target}
	if parser.accept(Where) {
		if stmt.Where, err = parser.parseExpr(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// ============================================================================
// Expressions, lowest precedence first
// ============================================================================

func (parser *Parser) parseExpr() (Expr, error) {
	return parser.parseOr()
}

func (parser *Parser) parseOr() (Expr, error) {
	left, err := parser.parseAnd()
	if err != nil {
		return nil, err
	}
	for parser.accept(Or) {
		right, err := parser.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (parser *Parser) parseAnd() (Expr, error) {
	left, err := parser.parseNot()
	if err != nil {
		return nil, err
	}
	for parser.accept(And) {
		right, err := parser.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (parser *Parser) parseNot() (Expr, error) {
	if parser.peek().Type == Not && parser.peekAt(1).Type != KwExists {
		parser.next()
		x, err := parser.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", X: x}, nil
	}
	return parser.parsePredicate()
}

func (parser *Parser) parsePredicate() (Expr, error) {
	if parser.peek().Type == KwExists || parser.peek().Type == Not && parser.peekAt(1).Type == KwExists {
		not := parser.accept(Not)
		parser.next() // EXISTS
		sub, err := parser.parseParenSubquery()
		if err != nil {
			return nil, err
		}
		return &Exists{Sub: sub, Not: not}, nil
	}

	left, err := parser.parseAdditive()
	if err != nil {
		return nil, err
	}

	switch t := parser.peek().Type; t {
	case Equals, NotEquals, LessThan, GreaterThan, LessThanOrEqual, GreaterThanOrEqual:
		op := parser.next().Value
		right, err := parser.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, Left: left, Right: right}, nil
	case Is:
		parser.next()
		not := parser.accept(Not)
		if _, err := parser.expect(Null, "NULL"); err != nil {
			return nil, err
		}
		return &IsNull{X: left, Not: not}, nil
	}

	not := false
	if parser.peek().Type == Not {
		switch parser.peekAt(1).Type {
		case KwLike, KwIn, KwBetween:
			parser.next()
			not = true
		}
	}

	switch parser.peek().Type {
	case KwLike:
		parser.next()
		pattern, err := parser.parseAdditive()
		if err != nil {
			return nil, err
		}
		like := &Like{X: left, Pattern: pattern, Not: not}
		if parser.accept(Escape) {
			if like.Escape, err = parser.parsePrimary(); err != nil {
				return nil, err
			}
		}
		return like, nil
	case KwBetween:
		parser.next()
		low, err := parser.parseAdditive()
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(And, "AND"); err != nil {
			return nil, err
		}
		high, err := parser.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &Between{X: left, Low: low, High: high, Not: not}, nil
	case KwIn:
		parser.next()
		return parser.parseIn(left, not)
	}
	return left, nil
}

func (parser *Parser) parseIn(x Expr, not bool) (Expr, error) {
	in := &In{X: x, Not: not}
	switch parser.peek().Type {
	case PositionalParam, NamedParam:
		p, err := parser.parsePrimary()
		if err != nil {
			return nil, err
		}
		in.List = []Expr{p}
		return in, nil
	}
	if _, err := parser.expect(ParenOpen, "("); err != nil {
		return nil, err
	}
	if parser.peek().Type == Select {
		sub, err := parser.parseSelect()
		if err != nil {
			return nil, err
		}
		in.Sub = sub
	} else {
		for {
			e, err := parser.parseAdditive()
			if err != nil {
				return nil, err
			}
			in.List = append(in.List, e)
			if !parser.accept(Comma) {
				break
			}
		}
	}
	if _, err := parser.expect(ParenClose, ")"); err != nil {
		return nil, err
	}
	return in, nil
}

func (parser *Parser) parseAdditive() (Expr, error) {
	left, err := parser.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for parser.peek().Type == Plus || parser.peek().Type == Minus {
		op := parser.next().Value
		right, err := parser.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (parser *Parser) parseMultiplicative() (Expr, error) {
	left, err := parser.parseUnary()
	if err != nil {
		return nil, err
	}
	for parser.peek().Type == Star || parser.peek().Type == Slash {
		op := parser.next().Value
		right, err := parser.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (parser *Parser) parseUnary() (Expr, error) {
	switch parser.peek().Type {
	case Minus:
		parser.next()
		x, err := parser.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*Literal); ok {
			switch v := lit.Value.(type) {
			case int64:
				return &Literal{Value: -v}, nil
			case float64:
				return &Literal{Value: -v}, nil
			}
		}
		return &Unary{Op: "-", X: x}, nil
	case Plus:
		parser.next()
		return parser.parseUnary()
	}
	return parser.parsePrimary()
}

func (parser *Parser) parsePrimary() (Expr, error) {
	token := parser.peek()
	switch token.Type {
	case String:
		parser.next()
		return &Literal{Value: token.Value}, nil
	case Int:
		parser.next()
		n, err := strconv.ParseInt(token.Value, 10, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: token.Pos, Msg: "integer out of range"}
		}
		return &Literal{Value: n}, nil
	case Float:
		parser.next()
		f, err := strconv.ParseFloat(token.Value, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: token.Pos, Msg: "invalid number"}
		}
		return &Literal{Value: f}, nil
	case True, False:
		parser.next()
		return &Literal{Value: token.Type == True}, nil
	case Null:
		parser.next()
		return &Literal{}, nil
	case PositionalParam:
		parser.next()
		if token.Value == "" {
			p := &Param{Position: parser.nextPositional}
			parser.nextPositional++
			return p, nil
		}
		n, err := strconv.Atoi(token.Value)
		if err != nil || n < 1 {
			return nil, &SyntaxError{Pos: token.Pos, Msg: "positional parameters start at 1"}
		}
		if n >= parser.nextPositional {
			parser.nextPositional = n + 1
		}
		return &Param{Position: n}, nil
	case NamedParam:
		parser.next()
		return &Param{Name: token.Value}, nil
	case ParenOpen:
		if parser.peekAt(1).Type == Select {
			sub, err := parser.parseParenSubquery()
			if err != nil {
				return nil, err
			}
			return &Subquery{Select: sub}, nil
		}
		parser.next()
		e, err := parser.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := parser.expect(ParenClose, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case Ident:
		if parser.peekAt(1).Type == ParenOpen {
			return parser.parseFunc()
		}
		return parser.parsePath()
	}
	return nil, parser.errorf("unexpected %s", token)
}

func (parser *Parser) parseParenSubquery() (*SelectStatement, error) {
	if _, err := parser.expect(ParenOpen, "("); err != nil {
		return nil, err
	}
	if parser.peek().Type != Select {
		return nil, parser.errorf("expected subquery, found %s", parser.peek())
	}
	sub, err := parser.parseSelect()
	if err != nil {
		return nil, err
	}
	if _, err := parser.expect(ParenClose, ")"); err != nil {
		return nil, err
	}
	return sub, nil
}

func (parser *Parser) parseFunc() (Expr, error) {
	f := &Func{Name: strings.ToUpper(parser.next().Value)}
	parser.next() // (
	if aggregates[f.Name] {
		f.Distinct = parser.accept(Distinct)
		if f.Name == "COUNT" && parser.accept(Star) {
			f.Star = true
		}
	}
	if !f.Star && parser.peek().Type != ParenClose {
		for {
			arg, err := parser.parseAdditive()
			if err != nil {
				return nil, err
			}
			f.Args = append(f.Args, arg)
			if !parser.accept(Comma) {
				break
			}
		}
	}
	if _, err := parser.expect(ParenClose, ")"); err != nil {
		return nil, err
	}
	return f, nil
}

func (parser *Parser) parsePath() (*Path, error) {
	start, err := parser.expect(Ident, "identifier")
	if err != nil {
		return nil, err
	}
	path := &Path{Parts: []string{start.Value}, Pos: start.Pos}
	for parser.accept(Dot) {
		part, err := parser.name("property name")
		if err != nil {
			return nil, err
		}
		path.Parts = append(path.Parts, part)
	}
	return path, nil
}
