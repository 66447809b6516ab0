package query

// StatementType distinguishes the parsed statement forms
type StatementType int

const (
	SelectStatementType StatementType = iota
	UpdateStatementType
	DeleteStatementType
)

type Statement interface {
	Type() StatementType
}

// Range is an entity declared in FROM, UPDATE or DELETE
type Range struct {
	Entity string
	Alias  string
}

// JoinKind is the join flavor of an explicit association join
type JoinKind int

const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// Join navigates an association of an alias declared earlier
type Join struct {
	Kind  JoinKind
	Fetch bool
	Path  *Path
	Alias string
}

type SelectItem struct {
	Expr  Expr
	Alias string
}

type OrderItem struct {
	Expr Expr
	Desc bool
}

type SelectStatement struct {
	Distinct bool
	Items    []SelectItem // empty when the query starts with FROM
	From     []Range
	Joins    []Join
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderItem
}

type Assignment struct {
	Path  *Path
	Value Expr
}

type UpdateStatement struct {
	Target Range
	Sets   []Assignment
	Where  Expr
}

type DeleteStatement struct {
	Target Range
	Where  Expr
}

func (s *SelectStatement) Type() StatementType { return SelectStatementType }
func (s *UpdateStatement) Type() StatementType { return UpdateStatementType }
func (s *DeleteStatement) Type() StatementType { return DeleteStatementType }

// ============================================================================
// Expressions
// ============================================================================

type Expr interface {
	expr()
}

// Path is an alias optionally followed by property names: c.customer.lastName
type Path struct {
	Parts []string
	Pos   int
}

// Literal holds a string, int64, float64 or bool; Value is nil for NULL
type Literal struct {
	Value any
}

// Param is ?N (Position > 0) or :name
type Param struct {
	Position int
	Name     string
}

// Binary is an arithmetic, comparison or logical operation
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Unary is NOT or arithmetic negation
type Unary struct {
	Op string
	X  Expr
}

type Like struct {
	X       Expr
	Pattern Expr
	Escape  Expr
	Not     bool
}

// In tests membership in a value list, a subquery, or a collection parameter
type In struct {
	X    Expr
	List []Expr
	Sub  *SelectStatement
	Not  bool
}

type Between struct {
	X    Expr
	Low  Expr
	High Expr
	Not  bool
}

type IsNull struct {
	X   Expr
	Not bool
}

// Func is a function or aggregate call; Star marks COUNT(*)
type Func struct {
	Name     string
	Args     []Expr
	Distinct bool
	Star     bool
}

type Subquery struct {
	Select *SelectStatement
}

type Exists struct {
	Sub *SelectStatement
	Not bool
}

// Constructor builds an unmanaged entity instance per result row
type Constructor struct {
	Entity string
	Args   []SelectItem
}

func (*Path) expr()        {}
func (*Literal) expr()     {}
func (*Param) expr()       {}
func (*Binary) expr()      {}
func (*Unary) expr()       {}
func (*Like) expr()        {}
func (*In) expr()          {}
func (*Between) expr()     {}
func (*IsNull) expr()      {}
func (*Func) expr()        {}
func (*Subquery) expr()    {}
func (*Exists) expr()      {}
func (*Constructor) expr() {}

// Aggregates recognized by the translator
var aggregates = map[string]bool{
	"COUNT": true,
	"SUM":   true,
	"AVG":   true,
	"MIN":   true,
	"MAX":   true,
}
