package query

import "strings"

type TokenType int

const (
	EOF TokenType = iota
	Illegal
	Ident
	String
	Int
	Float
	PositionalParam
	NamedParam
	Comma
	Dot
	ParenOpen
	ParenClose
	Equals
	NotEquals
	LessThan
	GreaterThan
	LessThanOrEqual
	GreaterThanOrEqual
	Plus
	Minus
	Star
	Slash

	// keywords
	Select
	Distinct
	From
	Where
	KwJoin
	Left
	Outer
	Inner
	KwFetch
	Group
	Order
	By
	Having
	Asc
	Desc
	As
	And
	Or
	Not
	KwIn
	KwLike
	Escape
	KwBetween
	Is
	Null
	True
	False
	Update
	Set
	Delete
	New
	KwExists
)

var keywords = map[string]TokenType{
	"SELECT":   Select,
	"DISTINCT": Distinct,
	"FROM":     From,
	"WHERE":    Where,
	"JOIN":     KwJoin,
	"LEFT":     Left,
	"OUTER":    Outer,
	"INNER":    Inner,
	"FETCH":    KwFetch,
	"GROUP":    Group,
	"ORDER":    Order,
	"BY":       By,
	"HAVING":   Having,
	"ASC":      Asc,
	"DESC":     Desc,
	"AS":       As,
	"AND":      And,
	"OR":       Or,
	"NOT":      Not,
	"IN":       KwIn,
	"LIKE":     KwLike,
	"ESCAPE":   Escape,
	"BETWEEN":  KwBetween,
	"IS":       Is,
	"NULL":     Null,
	"TRUE":     True,
	"FALSE":    False,
	"UPDATE":   Update,
	"SET":      Set,
	"DELETE":   Delete,
	"NEW":      New,
	"EXISTS":   KwExists,
}

// Token is one lexical unit; Pos is the byte offset in the query text
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// IsKeyword reports whether the token is a reserved word. Keywords are
// accepted where an entity or property name is expected.
func (token Token) IsKeyword() bool {
	return token.Type >= Select
}

func (token Token) String() string {
	switch token.Type {
	case EOF:
		return "end of query"
	case String:
		return "'" + token.Value + "'"
	case PositionalParam:
		return "?" + token.Value
	case NamedParam:
		return ":" + token.Value
	}
	return token.Value
}

type Lexer struct {
	text         string
	position     int
	readPosition int
	ch           byte
}

func NewLexer(text string) *Lexer {
	lexer := &Lexer{text: text}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.readPosition >= len(lexer.text) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.text[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) peekChar() byte {
	if lexer.readPosition >= len(lexer.text) {
		return 0
	}
	return lexer.text[lexer.readPosition]
}

func (lexer *Lexer) NextToken() Token {
	lexer.skipWhitespace()
	pos := lexer.position

	single := func(t TokenType) Token {
		token := Token{Type: t, Value: string(lexer.ch), Pos: pos}
		lexer.readChar()
		return token
	}

	switch ch := lexer.ch; {
	case ch == 0:
		return Token{Type: EOF, Pos: pos}
	case ch == ',':
		return single(Comma)
	case ch == '.':
		if isDigit(lexer.peekChar()) {
			return lexer.readNumber(pos)
		}
		return single(Dot)
	case ch == '(':
		return single(ParenOpen)
	case ch == ')':
		return single(ParenClose)
	case ch == '+':
		return single(Plus)
	case ch == '-':
		return single(Minus)
	case ch == '*':
		return single(Star)
	case ch == '/':
		return single(Slash)
	case ch == '=':
		return single(Equals)
	case ch == '<' || ch == '>' || ch == '!':
		return lexer.readOperator(pos)
	case ch == '\'':
		value, ok := lexer.readString()
		if !ok {
			return Token{Type: Illegal, Value: "unterminated string", Pos: pos}
		}
		return Token{Type: String, Value: value, Pos: pos}
	case ch == '?':
		lexer.readChar()
		start := lexer.position
		for isDigit(lexer.ch) {
			lexer.readChar()
		}
		return Token{Type: PositionalParam, Value: lexer.text[start:lexer.position], Pos: pos}
	case ch == ':':
		lexer.readChar()
		if !isLetter(lexer.ch) {
			return Token{Type: Illegal, Value: ":", Pos: pos}
		}
		return Token{Type: NamedParam, Value: lexer.readIdentifier(), Pos: pos}
	case isDigit(ch):
		return lexer.readNumber(pos)
	case isLetter(ch):
		literal := lexer.readIdentifier()
		if t, ok := keywords[strings.ToUpper(literal)]; ok {
			return Token{Type: t, Value: literal, Pos: pos}
		}
		return Token{Type: Ident, Value: literal, Pos: pos}
	}

	return single(Illegal)
}

func (lexer *Lexer) skipWhitespace() {
	for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
		lexer.readChar()
	}
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for isLetter(lexer.ch) || isDigit(lexer.ch) {
		lexer.readChar()
	}
	return lexer.text[position:lexer.position]
}

// readString reads a quoted literal; a doubled quote is an escaped quote
func (lexer *Lexer) readString() (string, bool) {
	var b strings.Builder
	lexer.readChar() // skip opening quote
	for {
		switch lexer.ch {
		case 0:
			return "", false
		case '\'':
			if lexer.peekChar() != '\'' {
				lexer.readChar()
				return b.String(), true
			}
			lexer.readChar()
		}
		b.WriteByte(lexer.ch)
		lexer.readChar()
	}
}

func (lexer *Lexer) readNumber(pos int) Token {
	position := lexer.position
	for isDigit(lexer.ch) {
		lexer.readChar()
	}
	tokenType := Int
	// a leading dot reaches here only when a digit follows it
	if lexer.ch == '.' && (isDigit(lexer.peekChar()) || position == lexer.position) {
		tokenType = Float
		lexer.readChar()
		for isDigit(lexer.ch) {
			lexer.readChar()
		}
	}
	return Token{Type: tokenType, Value: lexer.text[position:lexer.position], Pos: pos}
}

func (lexer *Lexer) readOperator(pos int) Token {
	first := lexer.ch
	lexer.readChar()
	second := lexer.ch
	switch {
	case first == '<' && second == '=':
		lexer.readChar()
		return Token{Type: LessThanOrEqual, Value: "<=", Pos: pos}
	case first == '>' && second == '=':
		lexer.readChar()
		return Token{Type: GreaterThanOrEqual, Value: ">=", Pos: pos}
	case first == '<' && second == '>', first == '!' && second == '=':
		lexer.readChar()
		return Token{Type: NotEquals, Value: "<>", Pos: pos}
	case first == '<':
		return Token{Type: LessThan, Value: "<", Pos: pos}
	case first == '>':
		return Token{Type: GreaterThan, Value: ">", Pos: pos}
	}
	return Token{Type: Illegal, Value: string(first), Pos: pos}
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_' || ch == '$'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

// Tokenize splits a query into tokens, ending with EOF
func Tokenize(text string) []Token {
	lexer := NewLexer(text)
	var tokens []Token
	for {
		token := lexer.NextToken()
		tokens = append(tokens, token)
		if token.Type == EOF || token.Type == Illegal {
			return tokens
		}
	}
}
