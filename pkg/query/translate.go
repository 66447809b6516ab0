package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Params are the values bound to a query's parameters
type Params struct {
	Positional map[int]any
	Named      map[string]any
}

// Options control one translation
type Options struct {
	// Dialect is db.DriverMySQL or db.DriverSQLite; functions differ
	Dialect string
	Params  Params

	FirstResult int
	MaxResults  int
}

// SelectionKind is how the session turns result columns into a value
type SelectionKind int

const (
	// SelectEntity hydrates a managed instance from Width columns
	SelectEntity SelectionKind = iota
	// SelectScalar returns one column, converted to Field's type when set
	SelectScalar
	// SelectReference returns the managed instance a foreign key points to
	SelectReference
	// SelectConstructor fills a new unmanaged instance from Args
	SelectConstructor
)

// Selection describes one element of a result row
type Selection struct {
	Kind     SelectionKind
	Entity   *mapping.Entity
	Field    *mapping.Field
	Column   int
	Width    int
	Property string      // constructor argument target
	Args     []Selection // constructor arguments
}

// Fetch is an association loaded by a JOIN FETCH
type Fetch struct {
	Owner       *mapping.Entity
	OwnerColumn int
	Relation    *mapping.Relation
	Column      int
}

// Translation is the SQL form of a statement with its bound arguments
type Translation struct {
	Type       StatementType
	SQL        string
	Args       []any
	Selections []Selection
	Fetches    []Fetch

	// Tables lists every table read, the query cache dependencies
	Tables []string

	// Target is the entity written by UPDATE or DELETE
	Target *mapping.Entity

	// PageInMemory is set when a collection fetch prevents SQL paging
	PageInMemory bool
}

// Translate renders a parsed statement against the registry
func Translate(stmt Statement, reg *mapping.Registry, opts Options) (*Translation, error) {
	t := &translator{reg: reg, opts: opts, tables: map[string]bool{}}
	var (
		tr  *Translation
		err error
	)
	switch s := stmt.(type) {
	case *SelectStatement:
		tr, err = t.translateSelect(s)
	case *UpdateStatement:
		tr, err = t.translateUpdate(s)
	case *DeleteStatement:
		tr, err = t.translateDelete(s)
	default:
		return nil, semanticf("unsupported statement %T", stmt)
	}
	if err != nil {
		return nil, err
	}
	tr.Tables = t.tableList
	return tr, nil
}

// ============================================================================
// Scopes and aliases
// ============================================================================

type aliasInfo struct {
	entity *mapping.Entity
	sql    string // qualifier used in column references
	scope  *scope
}

func (a *aliasInfo) col(column string) string {
	return a.sql + "." + column
}

type scope struct {
	parent   *scope
	builder  *db.Builder
	aliases  map[string]*aliasInfo
	roots    []*aliasInfo
	implicit map[string]*aliasInfo
	bulk     bool // UPDATE or DELETE: no joins
}

func (s *scope) lookup(name string) *aliasInfo {
	for cur := s; cur != nil; cur = cur.parent {
		if a, ok := cur.aliases[strings.ToLower(name)]; ok {
			return a
		}
	}
	return nil
}

type translator struct {
	reg       *mapping.Registry
	opts      Options
	nextAlias int
	tables    map[string]bool
	tableList []string
}

func (t *translator) useTable(table string) {
	if !t.tables[table] {
		t.tables[table] = true
		t.tableList = append(t.tableList, table)
	}
}

func (t *translator) newAlias() string {
	a := "t" + strconv.Itoa(t.nextAlias)
	t.nextAlias++
	return a
}

func (t *translator) entity(name string) (*mapping.Entity, error) {
	e, err := t.reg.ByName(name)
	if err != nil {
		return nil, semanticf("unknown entity %s", name)
	}
	return e, nil
}

func (t *translator) declare(s *scope, alias string, info *aliasInfo) error {
	if alias == "" {
		return nil
	}
	key := strings.ToLower(alias)
	if _, dup := s.aliases[key]; dup {
		return semanticf("alias %s declared twice", alias)
	}
	s.aliases[key] = info
	return nil
}

// join adds the SQL joins that navigate rel from owner and returns the target alias
func (t *translator) join(owner *aliasInfo, rel *mapping.Relation, kind db.JoinType) (*aliasInfo, error) {
	s := owner.scope
	if s.bulk {
		return nil, semanticf("%s.%s needs a join, which bulk statements cannot use", owner.entity.Name, rel.Property)
	}
	target := &aliasInfo{entity: rel.Target, sql: t.newAlias(), scope: s}
	table := rel.Target.Table + " " + target.sql
	t.useTable(rel.Target.Table)

	switch {
	case rel.ToOne() && rel.Owning():
		s.builder.Join(kind, table, target.col(rel.Target.ID.Column)+" = "+owner.col(rel.JoinColumn))
	case rel.Kind == mapping.ManyToMany:
		owning := rel
		ownerCol, targetCol := rel.JoinColumn, rel.InverseJoinColumn
		if !rel.Owning() {
			owning = rel.Inverse()
			ownerCol, targetCol = owning.InverseJoinColumn, owning.JoinColumn
		}
		link := t.newAlias()
		t.useTable(owning.JoinTable)
		s.builder.Join(kind, owning.JoinTable+" "+link, link+"."+ownerCol+" = "+owner.col(owner.entity.ID.Column))
		s.builder.Join(kind, table, target.col(rel.Target.ID.Column)+" = "+link+"."+targetCol)
	case rel.Owning():
		// unidirectional one-to-many: the key lives in the target table
		s.builder.Join(kind, table, target.col(rel.JoinColumn)+" = "+owner.col(owner.entity.ID.Column))
	default:
		inv := rel.Inverse()
		if inv == nil {
			return nil, semanticf("%s.%s has no owning side", owner.entity.Name, rel.Property)
		}
		s.builder.Join(kind, table, target.col(inv.JoinColumn)+" = "+owner.col(owner.entity.ID.Column))
	}
	return target, nil
}

func (t *translator) implicitJoin(owner *aliasInfo, rel *mapping.Relation, kind db.JoinType) (*aliasInfo, error) {
	s := owner.scope
	key := owner.sql + "." + rel.Name
	if a, ok := s.implicit[key]; ok {
		return a, nil
	}
	a, err := t.join(owner, rel, kind)
	if err != nil {
		return nil, err
	}
	s.implicit[key] = a
	return a, nil
}

// ============================================================================
// Paths
// ============================================================================

type valueKind int

const (
	scalarValue valueKind = iota
	entityValue
	collectionValue
)

// frag is a rendered expression
type frag struct {
	sql  string
	args []any
	kind valueKind

	field  *mapping.Field
	entity *mapping.Entity

	// alias is set when every column of entity is addressable
	alias *aliasInfo

	// rel and owner describe an owning to-one or collection path
	rel   *mapping.Relation
	owner *aliasInfo

	// column is the unqualified column of a basic or foreign key attribute
	column string
}

func (t *translator) resolvePath(s *scope, p *Path) (frag, error) {
	parts := p.Parts
	cur := s.lookup(parts[0])
	if cur == nil {
		if len(s.roots) != 1 {
			return frag{}, semanticf("unknown alias %s", parts[0])
		}
		cur = s.roots[0]
	} else {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return frag{
			sql:    cur.col(cur.entity.ID.Column),
			kind:   entityValue,
			entity: cur.entity,
			alias:  cur,
		}, nil
	}

	for i, part := range parts {
		last := i == len(parts)-1
		if f := cur.entity.Field(part); f != nil {
			if !last {
				return frag{}, semanticf("cannot navigate through %s.%s", cur.entity.Name, f.Property)
			}
			return frag{sql: cur.col(f.Column), field: f, column: f.Column}, nil
		}

		rel := cur.entity.Relation(part)
		if rel == nil {
			return frag{}, semanticf("%s has no property %s", cur.entity.Name, part)
		}
		if !rel.ToOne() {
			if !last {
				return frag{}, semanticf("collection %s.%s must be joined before navigating it", cur.entity.Name, rel.Property)
			}
			return frag{kind: collectionValue, entity: rel.Target, rel: rel, owner: cur}, nil
		}

		if last {
			if rel.Owning() {
				return frag{
					sql:    cur.col(rel.JoinColumn),
					kind:   entityValue,
					entity: rel.Target,
					rel:    rel,
					owner:  cur,
					column: rel.JoinColumn,
				}, nil
			}
			target, err := t.implicitJoin(cur, rel, db.LeftJoin)
			if err != nil {
				return frag{}, err
			}
			return frag{sql: target.col(rel.Target.ID.Column), kind: entityValue, entity: rel.Target, alias: target}, nil
		}

		// o.customer.id reads the foreign key without a join
		if rel.Owning() && i+2 == len(parts) && rel.Target.Field(parts[i+1]) == rel.Target.ID {
			return frag{sql: cur.col(rel.JoinColumn), field: rel.Target.ID, column: rel.JoinColumn}, nil
		}
		next, err := t.implicitJoin(cur, rel, db.InnerJoin)
		if err != nil {
			return frag{}, err
		}
		cur = next
	}
	return frag{}, semanticf("empty path")
}

// ============================================================================
// Expressions
// ============================================================================

func (t *translator) bindValue(v any) any {
	if v == nil {
		return nil
	}
	if meta, err := t.reg.Of(v); err == nil {
		rv, _ := meta.Value(v)
		return meta.IDOf(rv)
	}
	return mapping.DatabaseValue(v)
}

func (t *translator) param(p *Param) (any, error) {
	if p.Name != "" {
		v, ok := t.opts.Params.Named[p.Name]
		if !ok {
			return nil, semanticf("parameter :%s is not bound", p.Name)
		}
		return v, nil
	}
	v, ok := t.opts.Params.Positional[p.Position]
	if !ok {
		return nil, semanticf("parameter ?%d is not bound", p.Position)
	}
	return v, nil
}

// expand returns the elements of a collection parameter value
func expand(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// scalar renders an expression that must produce a single column
func (t *translator) scalar(s *scope, e Expr) (frag, error) {
	f, err := t.expr(s, e)
	if err != nil {
		return f, err
	}
	if f.kind == collectionValue {
		return f, semanticf("collection %s.%s used as a value", f.owner.entity.Name, f.rel.Property)
	}
	return f, nil
}

func (t *translator) expr(s *scope, e Expr) (frag, error) {
	switch x := e.(type) {
	case *Path:
		return t.resolvePath(s, x)

	case *Literal:
		switch v := x.Value.(type) {
		case nil:
			return frag{sql: "NULL"}, nil
		case int64:
			return frag{sql: strconv.FormatInt(v, 10)}, nil
		case float64:
			return frag{sql: strconv.FormatFloat(v, 'g', -1, 64)}, nil
		default:
			return frag{sql: "?", args: []any{v}}, nil
		}

	case *Param:
		v, err := t.param(x)
		if err != nil {
			return frag{}, err
		}
		return frag{sql: "?", args: []any{t.bindValue(v)}}, nil

	case *Binary:
		return t.binary(s, x)

	case *Unary:
		inner, err := t.scalar(s, x.X)
		if err != nil {
			return frag{}, err
		}
		if x.Op == "NOT" {
			return frag{sql: "NOT (" + inner.sql + ")", args: inner.args}, nil
		}
		return frag{sql: "-(" + inner.sql + ")", args: inner.args}, nil

	case *Like:
		return t.like(s, x)

	case *In:
		return t.in(s, x)

	case *Between:
		parts, args, err := t.scalars(s, x.X, x.Low, x.High)
		if err != nil {
			return frag{}, err
		}
		op := " BETWEEN "
		if x.Not {
			op = " NOT BETWEEN "
		}
		return frag{sql: parts[0] + op + parts[1] + " AND " + parts[2], args: args}, nil

	case *IsNull:
		inner, err := t.scalar(s, x.X)
		if err != nil {
			return frag{}, err
		}
		if x.Not {
			return frag{sql: inner.sql + " IS NOT NULL", args: inner.args}, nil
		}
		return frag{sql: inner.sql + " IS NULL", args: inner.args}, nil

	case *Func:
		return t.function(s, x)

	case *Subquery:
		sub, err := t.subquery(s, x.Select)
		if err != nil {
			return frag{}, err
		}
		sub.sql = "(" + sub.sql + ")"
		return sub, nil

	case *Exists:
		sub, err := t.subquery(s, x.Sub)
		if err != nil {
			return frag{}, err
		}
		kw := "EXISTS ("
		if x.Not {
			kw = "NOT EXISTS ("
		}
		return frag{sql: kw + sub.sql + ")", args: sub.args}, nil

	case *Constructor:
		return frag{}, semanticf("NEW %s is only allowed in the select list", x.Entity)
	}
	return frag{}, semanticf("unsupported expression %T", e)
}

func (t *translator) scalars(s *scope, exprs ...Expr) ([]string, []any, error) {
	parts := make([]string, len(exprs))
	var args []any
	for i, e := range exprs {
		f, err := t.scalar(s, e)
		if err != nil {
			return nil, nil, err
		}
		parts[i] = f.sql
		args = append(args, f.args...)
	}
	return parts, args, nil
}

func (t *translator) binary(s *scope, x *Binary) (frag, error) {
	left, err := t.scalar(s, x.Left)
	if err != nil {
		return frag{}, err
	}
	right, err := t.scalar(s, x.Right)
	if err != nil {
		return frag{}, err
	}
	args := append(append([]any(nil), left.args...), right.args...)

	switch x.Op {
	case "AND", "OR":
		l, r := left.sql, right.sql
		if isLogical(x.Left, x.Op) {
			l = "(" + l + ")"
		}
		if isLogical(x.Right, x.Op) {
			r = "(" + r + ")"
		}
		return frag{sql: l + " " + x.Op + " " + r, args: args}, nil
	case "+", "-", "*", "/":
		return frag{sql: "(" + left.sql + " " + x.Op + " " + right.sql + ")", args: args}, nil
	}

	if (left.kind == entityValue) != (right.kind == entityValue) {
		// an entity compares against its identifier
		if !isValueLike(x.Left) && !isValueLike(x.Right) {
			return frag{}, semanticf("cannot compare an entity with a scalar")
		}
	}
	op := x.Op
	if op == "!=" {
		op = "<>"
	}
	return frag{sql: left.sql + " " + op + " " + right.sql, args: args}, nil
}

// isValueLike reports operands that may stand for an entity identifier
func isValueLike(e Expr) bool {
	switch e.(type) {
	case *Param, *Literal, *Subquery:
		return true
	}
	return false
}

// isLogical reports whether e is an AND/OR that needs parentheses under op
func isLogical(e Expr, op string) bool {
	b, ok := e.(*Binary)
	return ok && (b.Op == "AND" || b.Op == "OR") && b.Op != op
}

func (t *translator) like(s *scope, x *Like) (frag, error) {
	exprs := []Expr{x.X, x.Pattern}
	if x.Escape != nil {
		exprs = append(exprs, x.Escape)
	}
	parts, args, err := t.scalars(s, exprs...)
	if err != nil {
		return frag{}, err
	}
	op := " LIKE "
	if x.Not {
		op = " NOT LIKE "
	}
	sql := parts[0] + op + parts[1]
	if x.Escape != nil {
		sql += " ESCAPE " + parts[2]
	}
	return frag{sql: sql, args: args}, nil
}

func (t *translator) in(s *scope, x *In) (frag, error) {
	left, err := t.scalar(s, x.X)
	if err != nil {
		return frag{}, err
	}
	op := " IN "
	if x.Not {
		op = " NOT IN "
	}

	if x.Sub != nil {
		sub, err := t.subquery(s, x.Sub)
		if err != nil {
			return frag{}, err
		}
		return frag{sql: left.sql + op + "(" + sub.sql + ")", args: append(left.args, sub.args...)}, nil
	}

	var items []string
	args := left.args
	for _, e := range x.List {
		if p, ok := e.(*Param); ok {
			v, err := t.param(p)
			if err != nil {
				return frag{}, err
			}
			if values, ok := expand(v); ok {
				for _, item := range values {
					items = append(items, "?")
					args = append(args, t.bindValue(item))
				}
				continue
			}
			items = append(items, "?")
			args = append(args, t.bindValue(v))
			continue
		}
		f, err := t.scalar(s, e)
		if err != nil {
			return frag{}, err
		}
		items = append(items, f.sql)
		args = append(args, f.args...)
	}

	if len(items) == 0 {
		// empty lists never match
		if x.Not {
			return frag{sql: "1 = 1", args: left.args}, nil
		}
		return frag{sql: "1 = 0", args: left.args}, nil
	}
	return frag{sql: left.sql + op + "(" + strings.Join(items, ", ") + ")", args: args}, nil
}

func (t *translator) function(s *scope, x *Func) (frag, error) {
	if aggregates[x.Name] {
		if x.Star {
			return frag{sql: "COUNT(*)"}, nil
		}
		if len(x.Args) != 1 {
			return frag{}, semanticf("%s takes one argument", x.Name)
		}
		arg, err := t.scalar(s, x.Args[0])
		if err != nil {
			return frag{}, err
		}
		distinct := ""
		if x.Distinct {
			distinct = "DISTINCT "
		}
		out := frag{sql: x.Name + "(" + distinct + arg.sql + ")", args: arg.args}
		if x.Name == "MIN" || x.Name == "MAX" {
			out.field = arg.field
		}
		return out, nil
	}

	parts, args, err := t.scalars(s, x.Args...)
	if err != nil {
		return frag{}, err
	}
	arity := func(min, max int) error {
		if len(parts) < min || len(parts) > max {
			return semanticf("%s takes %d to %d arguments, got %d", x.Name, min, max, len(parts))
		}
		return nil
	}
	sqlite := t.opts.Dialect == db.DriverSQLite

	switch x.Name {
	case "UPPER", "LOWER", "TRIM", "ABS", "LENGTH":
		if err := arity(1, 1); err != nil {
			return frag{}, err
		}
		return frag{sql: x.Name + "(" + parts[0] + ")", args: args}, nil
	case "CONCAT":
		if err := arity(2, 16); err != nil {
			return frag{}, err
		}
		if sqlite {
			return frag{sql: "(" + strings.Join(parts, " || ") + ")", args: args}, nil
		}
		return frag{sql: "CONCAT(" + strings.Join(parts, ", ") + ")", args: args}, nil
	case "SUBSTRING":
		if err := arity(2, 3); err != nil {
			return frag{}, err
		}
		name := "SUBSTRING"
		if sqlite {
			name = "SUBSTR"
		}
		return frag{sql: name + "(" + strings.Join(parts, ", ") + ")", args: args}, nil
	case "MOD":
		if err := arity(2, 2); err != nil {
			return frag{}, err
		}
		if sqlite {
			return frag{sql: "(" + parts[0] + " % " + parts[1] + ")", args: args}, nil
		}
		return frag{sql: "MOD(" + parts[0] + ", " + parts[1] + ")", args: args}, nil
	}
	return frag{}, semanticf("unknown function %s", x.Name)
}

// subquery renders a nested select that yields one column
func (t *translator) subquery(outer *scope, stmt *SelectStatement) (frag, error) {
	s, err := t.openScope(outer, stmt)
	if err != nil {
		return frag{}, err
	}

	var result frag
	switch len(stmt.Items) {
	case 0:
		root := s.roots[0]
		result = frag{sql: root.col(root.entity.ID.Column), kind: entityValue, entity: root.entity}
	case 1:
		if result, err = t.scalar(s, stmt.Items[0].Expr); err != nil {
			return frag{}, err
		}
	default:
		return frag{}, semanticf("subquery must select one value")
	}
	if stmt.Distinct {
		s.builder.Distinct()
	}
	s.builder.Select(result.sql)

	if err := t.clauses(s, stmt, nil); err != nil {
		return frag{}, err
	}
	sql, args := s.builder.BuildSelect()
	return frag{
		sql:    sql,
		args:   append(append([]any(nil), result.args...), args...),
		kind:   result.kind,
		entity: result.entity,
		field:  result.field,
	}, nil
}

// openScope declares the ranges and explicit joins of a select
func (t *translator) openScope(parent *scope, stmt *SelectStatement) (*scope, error) {
	s := &scope{parent: parent, aliases: map[string]*aliasInfo{}, implicit: map[string]*aliasInfo{}}

	for i, r := range stmt.From {
		e, err := t.entity(r.Entity)
		if err != nil {
			return nil, err
		}
		info := &aliasInfo{entity: e, sql: t.newAlias(), scope: s}
		t.useTable(e.Table)
		if i == 0 {
			s.builder = db.NewBuilder(e.Table + " " + info.sql)
		} else {
			s.builder.Join(db.InnerJoin, e.Table+" "+info.sql, "1 = 1")
		}
		if err := t.declare(s, r.Alias, info); err != nil {
			return nil, err
		}
		s.roots = append(s.roots, info)
	}

	for i, j := range stmt.Joins {
		owner, rel, err := t.joinSource(s, j.Path)
		if err != nil {
			return nil, err
		}
		kind := db.InnerJoin
		if j.Kind == LeftJoin {
			kind = db.LeftJoin
		}
		target, err := t.join(owner, rel, kind)
		if err != nil {
			return nil, err
		}
		if err := t.declare(s, joinAlias(i, j), target); err != nil {
			return nil, err
		}
		// fetch joins are addressed by path when no alias is given
		s.implicit[owner.sql+"."+rel.Name] = target
	}
	return s, nil
}

// joinAlias names a plain join that has no alias; '#' never lexes as a name
func joinAlias(i int, j Join) string {
	if j.Alias == "" && !j.Fetch {
		return "#" + strconv.Itoa(i)
	}
	return j.Alias
}

// joinSource resolves alias.assoc of a join path; intermediate to-one steps
// join implicitly
func (t *translator) joinSource(s *scope, p *Path) (*aliasInfo, *mapping.Relation, error) {
	owner := s.lookup(p.Parts[0])
	if owner == nil {
		return nil, nil, semanticf("unknown alias %s", p.Parts[0])
	}
	parts := p.Parts[1:]
	for i, part := range parts {
		rel := owner.entity.Relation(part)
		if rel == nil {
			return nil, nil, semanticf("%s has no association %s", owner.entity.Name, part)
		}
		if i == len(parts)-1 {
			return owner, rel, nil
		}
		if !rel.ToOne() {
			return nil, nil, semanticf("collection %s.%s must be joined with its own alias", owner.entity.Name, rel.Property)
		}
		next, err := t.implicitJoin(owner, rel, db.InnerJoin)
		if err != nil {
			return nil, nil, err
		}
		owner = next
	}
	return nil, nil, semanticf("join path %s has no association", strings.Join(p.Parts, "."))
}

// clauses renders WHERE, GROUP BY, HAVING and ORDER BY into the scope's builder
func (t *translator) clauses(s *scope, stmt *SelectStatement, itemAliases map[string]string) error {
	if stmt.Where != nil {
		w, err := t.scalar(s, stmt.Where)
		if err != nil {
			return err
		}
		s.builder.WhereRaw(w.sql, w.args...)
	}

	for _, g := range stmt.GroupBy {
		f, err := t.scalar(s, g)
		if err != nil {
			return err
		}
		if len(f.args) > 0 {
			return semanticf("parameters are not allowed in GROUP BY")
		}
		s.builder.GroupBy(f.sql)
	}

	if stmt.Having != nil {
		h, err := t.scalar(s, stmt.Having)
		if err != nil {
			return err
		}
		s.builder.HavingRaw(h.sql, h.args...)
	}

	for _, o := range stmt.OrderBy {
		var sql string
		if p, ok := o.Expr.(*Path); ok && len(p.Parts) == 1 && itemAliases[strings.ToLower(p.Parts[0])] != "" {
			sql = itemAliases[strings.ToLower(p.Parts[0])]
		} else {
			f, err := t.scalar(s, o.Expr)
			if err != nil {
				return err
			}
			if len(f.args) > 0 {
				return semanticf("parameters are not allowed in ORDER BY")
			}
			sql = f.sql
		}
		if o.Desc {
			sql += " DESC"
		}
		s.builder.OrderByRaw(sql)
	}
	return nil
}

// ============================================================================
// Statements
// ============================================================================

func (t *translator) translateSelect(stmt *SelectStatement) (*Translation, error) {
	s, err := t.openScope(nil, stmt)
	if err != nil {
		return nil, err
	}

	items := stmt.Items
	if len(items) == 0 {
		// FROM-first queries return the roots and every plain join
		for _, r := range stmt.From {
			items = append(items, SelectItem{Expr: &Path{Parts: []string{r.Alias}}})
		}
		for i, j := range stmt.Joins {
			if !j.Fetch {
				items = append(items, SelectItem{Expr: &Path{Parts: []string{joinAlias(i, j)}}})
			}
		}
	}

	tr := &Translation{Type: SelectStatementType}
	var (
		columns     []string
		selectArgs  []any
		selected    = map[*aliasInfo]int{}
		itemAliases = map[string]string{}
	)

	addEntity := func(a *aliasInfo) int {
		start := len(columns)
		for _, c := range a.entity.Columns() {
			columns = append(columns, a.col(c))
		}
		return start
	}

	for _, item := range items {
		if c, ok := item.Expr.(*Constructor); ok {
			sel, err := t.constructor(s, c, &columns, &selectArgs)
			if err != nil {
				return nil, err
			}
			tr.Selections = append(tr.Selections, sel)
			continue
		}

		f, err := t.scalar(s, item.Expr)
		if err != nil {
			return nil, err
		}
		switch {
		case f.kind == entityValue && f.alias != nil:
			start := addEntity(f.alias)
			selected[f.alias] = start
			tr.Selections = append(tr.Selections, Selection{Kind: SelectEntity, Entity: f.entity, Column: start, Width: len(f.entity.Columns())})
		case f.kind == entityValue:
			tr.Selections = append(tr.Selections, Selection{Kind: SelectReference, Entity: f.entity, Column: len(columns), Width: 1})
			columns = append(columns, f.sql)
			selectArgs = append(selectArgs, f.args...)
		default:
			tr.Selections = append(tr.Selections, Selection{Kind: SelectScalar, Field: f.field, Column: len(columns), Width: 1})
			columns = append(columns, f.sql)
			selectArgs = append(selectArgs, f.args...)
		}
		if item.Alias != "" && len(f.args) == 0 {
			itemAliases[strings.ToLower(item.Alias)] = f.sql
		}
	}

	collectionFetch := false
	for _, j := range stmt.Joins {
		if !j.Fetch {
			continue
		}
		owner, rel, err := t.joinSource(s, j.Path)
		if err != nil {
			return nil, err
		}
		ownerColumn, ok := selected[owner]
		if !ok {
			return nil, semanticf("fetch join %s needs its owner in the select list", strings.Join(j.Path.Parts, "."))
		}
		target := s.implicit[owner.sql+"."+rel.Name]
		start := addEntity(target)
		selected[target] = start
		tr.Fetches = append(tr.Fetches, Fetch{Owner: owner.entity, OwnerColumn: ownerColumn, Relation: rel, Column: start})
		if !rel.ToOne() {
			collectionFetch = true
		}
	}

	if stmt.Distinct {
		s.builder.Distinct()
	}
	s.builder.Select(columns...)

	if err := t.clauses(s, stmt, itemAliases); err != nil {
		return nil, err
	}

	if collectionFetch && (t.opts.MaxResults > 0 || t.opts.FirstResult > 0) {
		tr.PageInMemory = true
	} else {
		if t.opts.MaxResults > 0 {
			s.builder.Limit(t.opts.MaxResults)
		}
		if t.opts.FirstResult > 0 {
			s.builder.Offset(t.opts.FirstResult)
		}
	}

	sql, args := s.builder.BuildSelect()
	tr.SQL = sql
	tr.Args = append(selectArgs, args...)
	return tr, nil
}

func (t *translator) constructor(s *scope, c *Constructor, columns *[]string, selectArgs *[]any) (Selection, error) {
	e, err := t.entity(c.Entity)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Kind: SelectConstructor, Entity: e, Column: len(*columns), Width: len(c.Args)}
	for _, arg := range c.Args {
		f, err := t.scalar(s, arg.Expr)
		if err != nil {
			return Selection{}, err
		}
		property := arg.Alias
		if property == "" {
			p, ok := arg.Expr.(*Path)
			if !ok {
				return Selection{}, semanticf("NEW %s argument needs AS <property>", c.Entity)
			}
			property = p.Parts[len(p.Parts)-1]
		}
		target := e.Field(property)
		if target == nil {
			return Selection{}, semanticf("%s has no basic property %s", e.Name, property)
		}
		sel.Args = append(sel.Args, Selection{Kind: SelectScalar, Field: target, Column: len(*columns), Width: 1, Property: target.Name})
		*columns = append(*columns, f.sql)
		*selectArgs = append(*selectArgs, f.args...)
	}
	return sel, nil
}

// bulkScope declares the target of UPDATE or DELETE, qualified by its table name
func (t *translator) bulkScope(r Range) (*scope, *aliasInfo, error) {
	e, err := t.entity(r.Entity)
	if err != nil {
		return nil, nil, err
	}
	s := &scope{aliases: map[string]*aliasInfo{}, implicit: map[string]*aliasInfo{}, bulk: true}
	root := &aliasInfo{entity: e, sql: e.Table, scope: s}
	s.builder = db.NewBuilder(e.Table)
	s.roots = []*aliasInfo{root}
	t.useTable(e.Table)
	if err := t.declare(s, r.Alias, root); err != nil {
		return nil, nil, err
	}
	return s, root, nil
}

func (t *translator) translateUpdate(stmt *UpdateStatement) (*Translation, error) {
	s, root, err := t.bulkScope(stmt.Target)
	if err != nil {
		return nil, err
	}

	for _, a := range stmt.Sets {
		target, err := t.resolvePath(s, a.Path)
		if err != nil {
			return nil, err
		}
		if target.column == "" {
			return nil, semanticf("cannot assign %s", strings.Join(a.Path.Parts, "."))
		}
		if target.field == root.entity.ID {
			return nil, semanticf("cannot assign the identifier of %s", root.entity.Name)
		}
		value, err := t.scalar(s, a.Value)
		if err != nil {
			return nil, err
		}
		s.builder.Set(target.column, value.sql, value.args...)
	}

	if stmt.Where != nil {
		w, err := t.scalar(s, stmt.Where)
		if err != nil {
			return nil, err
		}
		s.builder.WhereRaw(w.sql, w.args...)
	}

	sql, args, err := s.builder.BuildUpdateWhere()
	if err != nil {
		return nil, semanticf("%v", err)
	}
	return &Translation{Type: UpdateStatementType, SQL: sql, Args: args, Target: root.entity}, nil
}

func (t *translator) translateDelete(stmt *DeleteStatement) (*Translation, error) {
	s, root, err := t.bulkScope(stmt.Target)
	if err != nil {
		return nil, err
	}
	if stmt.Where != nil {
		w, err := t.scalar(s, stmt.Where)
		if err != nil {
			return nil, err
		}
		s.builder.WhereRaw(w.sql, w.args...)
	}
	sql, args := s.builder.BuildDeleteWhere()
	return &Translation{Type: DeleteStatementType, SQL: sql, Args: args, Target: root.entity}, nil
}

// String renders the translation for logs
func (tr *Translation) String() string {
	return fmt.Sprintf("%s %v", tr.SQL, tr.Args)
}
