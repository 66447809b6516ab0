package session

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
	"github.com/ammar0144/persist4go/pkg/query"
)

// Query is an object or native query bound to a session. Setters return
// the query for chaining; a construction error is reported by Err and by
// every execution method.
type Query struct {
	s      *Session
	text   string
	stmt   query.Statement
	native bool
	result *mapping.Entity // native entity result, nil for raw rows

	params      query.Params
	firstResult int
	maxResults  int
	cacheable   bool

	err error
}

// CreateQuery parses an object query
func (s *Session) CreateQuery(text string) *Query {
	q := s.newQuery(text)
	if q.err == nil {
		q.stmt, q.err = s.factory.parse(text)
	}
	return q
}

// CreateNamedQuery looks up a query declared by an entity's NamedQueries
func (s *Session) CreateNamedQuery(name string) *Query {
	text, ok := s.factory.registry.NamedQuery(name)
	if !ok {
		q := s.newQuery("")
		q.err = fmt.Errorf("%w: %s", ErrUnknownQuery, name)
		return q
	}
	return s.CreateQuery(text)
}

// CreateNativeQuery runs SQL as written. When result is an entity instance
// (any value of the entity type), rows are mapped onto managed instances of
// that type by column name; otherwise rows are returned as values.
func (s *Session) CreateNativeQuery(sql string, result any) *Query {
	q := s.newQuery(sql)
	q.native = true
	if q.err == nil && result != nil {
		q.result, q.err = s.factory.registry.Of(result)
	}
	return q
}

func (s *Session) newQuery(text string) *Query {
	return &Query{
		s:      s,
		text:   text,
		params: query.Params{Positional: map[int]any{}, Named: map[string]any{}},
		err:    s.check(),
	}
}

// SetParameter binds a positional parameter, numbered from 1
func (q *Query) SetParameter(position int, value any) *Query {
	q.params.Positional[position] = value
	return q
}

// SetNamedParameter binds a :name parameter
func (q *Query) SetNamedParameter(name string, value any) *Query {
	q.params.Named[name] = value
	return q
}

// SetFirstResult skips the first n results
func (q *Query) SetFirstResult(n int) *Query {
	q.firstResult = n
	return q
}

// SetMaxResults limits the number of results; 0 means no limit
func (q *Query) SetMaxResults(n int) *Query {
	q.maxResults = n
	return q
}

// SetCacheable stores and reuses results in the query cache
func (q *Query) SetCacheable(cacheable bool) *Query {
	q.cacheable = cacheable
	return q
}

// Err returns the error recorded while creating the query
func (q *Query) Err() error {
	return q.err
}

func (q *Query) translate() (*query.Translation, error) {
	return query.Translate(q.stmt, q.s.factory.registry, query.Options{
		Dialect:     q.s.factory.db.Dialect().Name(),
		Params:      q.params,
		FirstResult: q.firstResult,
		MaxResults:  q.maxResults,
	})
}

// autoFlush writes pending changes before a query in AUTO flush mode
func (s *Session) autoFlush(ctx context.Context) error {
	if s.tx == nil || s.flushMode != FlushAuto {
		return nil
	}
	return s.Flush(ctx)
}

// touches reports whether this transaction wrote one of tables
func (s *Session) touches(tables []string) bool {
	for _, t := range tables {
		if s.written[t] {
			return true
		}
	}
	return false
}

// ============================================================================
// Execution
// ============================================================================

// ResultList runs the query. Each result is the single selected value, or
// an []any tuple when several values are selected.
func (q *Query) ResultList(ctx context.Context) ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	s := q.s
	if err := s.check(); err != nil {
		return nil, err
	}
	if q.native {
		return q.nativeList(ctx)
	}

	tr, err := q.translate()
	if err != nil {
		return nil, err
	}
	if tr.Type != query.SelectStatementType {
		return nil, fmt.Errorf("%w: use ExecuteUpdate for UPDATE and DELETE", query.ErrSemantic)
	}
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	s.factory.stats.queries.Add(1)

	c := s.factory.cache
	cacheable := q.cacheable && c.QueryCacheEnabled() && len(tr.Fetches) == 0 && !s.touches(tr.Tables)
	var key string
	if cacheable {
		key = c.QueryKey(tr.SQL, tr.Args, q.firstResult, q.maxResults)
		if rows, ok := c.GetQuery(ctx, key); ok {
			results, err := s.fromCached(ctx, tr, rows)
			if err == nil {
				s.logger.Debug().Str("sql", tr.SQL).Msg("Query cache hit")
				return results, nil
			}
			s.logger.Warn().Err(err).Msg("Discarding cached query result")
		}
	}

	rows, err := s.queryRows(ctx, tr.SQL, tr.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	results, compact, err := s.materialize(ctx, tr, rows)
	if err != nil {
		return nil, err
	}
	if tr.PageInMemory {
		results = page(results, q.firstResult, q.maxResults)
	}
	if cacheable {
		c.PutQuery(ctx, key, compact, tr.Tables)
	}
	return results, nil
}

// SingleResult runs the query and expects exactly one result
func (q *Query) SingleResult(ctx context.Context) (any, error) {
	results, err := q.ResultList(ctx)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, ErrNoResult
	case 1:
		return results[0], nil
	}
	return nil, fmt.Errorf("%w: %d results", ErrNonUniqueResult, len(results))
}

// ExecuteUpdate runs a bulk UPDATE or DELETE, or native DML, and returns
// the number of affected rows. Cached entities of the written entity are
// evicted on commit; native statements clear the whole cache.
func (q *Query) ExecuteUpdate(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	s := q.s
	if err := s.requireTx(); err != nil {
		return 0, err
	}
	if err := s.autoFlush(ctx); err != nil {
		return 0, err
	}

	var (
		stmt    string
		args    []any
		counter = s.countUpdate
	)
	if q.native {
		nargs, err := q.nativeArgs()
		if err != nil {
			return 0, err
		}
		stmt, args = q.text, nargs
	} else {
		tr, err := q.translate()
		if err != nil {
			return 0, err
		}
		if tr.Type == query.SelectStatementType {
			return 0, fmt.Errorf("%w: use ResultList for SELECT", query.ErrSemantic)
		}
		if tr.Type == query.DeleteStatementType {
			counter = s.countDelete
		}
		stmt, args = tr.SQL, tr.Args
		s.regions = append(s.regions, tr.Target)
		s.written[tr.Target.Table] = true
	}

	res, err := s.execute(ctx, counter, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("update failed: %w", err)
	}
	if q.native {
		s.clearAll = true
	}
	return res.RowsAffected()
}

// ============================================================================
// Materialization
// ============================================================================

type fetchKey struct {
	owner any
	rel   *mapping.Relation
}

// materialize turns result rows into values and, for the query cache, into
// compact rows holding ids in place of entities
func (s *Session) materialize(ctx context.Context, tr *query.Translation, rows [][]any) ([]any, [][]any, error) {
	results := make([]any, 0, len(rows))
	compact := make([][]any, 0, len(rows))

	var (
		fetched     = map[fetchKey][]any{}
		fetchOrder  []fetchKey
		collections bool
	)

	for _, row := range rows {
		values := make([]any, len(tr.Selections))
		crow := make([]any, len(tr.Selections))
		for i, sel := range tr.Selections {
			v, c, err := s.selection(ctx, sel, row)
			if err != nil {
				return nil, nil, err
			}
			values[i], crow[i] = v, c
		}

		for _, f := range tr.Fetches {
			width := len(f.Owner.Columns())
			owner, err := s.assemble(ctx, f.Owner, row[f.OwnerColumn:f.OwnerColumn+width], false)
			if err != nil {
				return nil, nil, err
			}
			if owner == nil {
				continue
			}
			target, err := s.assemble(ctx, f.Relation.Target, row[f.Column:f.Column+len(f.Relation.Target.Columns())], false)
			if err != nil {
				return nil, nil, err
			}
			ov, err := f.Owner.Value(owner)
			if err != nil {
				return nil, nil, err
			}
			if f.Relation.ToOne() {
				ref := f.Owner.ToOneOf(ov, f.Relation)
				if _, loaded := ref.Peek(); !loaded {
					ref.Assign(target)
				}
				continue
			}
			collections = true
			k := fetchKey{owner: owner, rel: f.Relation}
			elems, seen := fetched[k]
			if !seen {
				fetchOrder = append(fetchOrder, k)
			}
			if target != nil && !containsInstance(elems, target) {
				elems = append(elems, target)
			}
			fetched[k] = elems
		}

		results = append(results, shape(values))
		compact = append(compact, crow)
	}

	for _, k := range fetchOrder {
		meta := k.rel.Owner
		ov, err := meta.Value(k.owner)
		if err != nil {
			return nil, nil, err
		}
		set := meta.ToManyOf(ov, k.rel)
		if set.Initialized() {
			continue
		}
		set.Replace(fetched[k])
		if entry, ok := s.identity.Lookup(k.owner); ok && k.rel.Owning() {
			entry.Collections[k.rel.Name] = elementKeys(s, k.rel.Target, fetched[k])
		}
	}

	// a collection fetch repeats its owner once per element
	if collections && len(tr.Selections) == 1 && tr.Selections[0].Kind == query.SelectEntity {
		results = distinctInstances(results)
	}
	return results, compact, nil
}

// selection produces one selected value and its query-cache form
func (s *Session) selection(ctx context.Context, sel query.Selection, row []any) (any, any, error) {
	switch sel.Kind {
	case query.SelectEntity:
		cols := row[sel.Column : sel.Column+sel.Width]
		inst, err := s.assemble(ctx, sel.Entity, cols, false)
		if err != nil {
			return nil, nil, err
		}
		return inst, mapping.NormalizeID(cols[idIndex(sel.Entity)]), nil
	case query.SelectReference:
		fk := mapping.NormalizeID(row[sel.Column])
		inst, err := s.find(ctx, sel.Entity, fk)
		if err != nil {
			return nil, nil, err
		}
		return inst, fk, nil
	case query.SelectConstructor:
		raw := make([]any, len(sel.Args))
		for i, arg := range sel.Args {
			raw[i] = normalizeScalar(row[arg.Column])
		}
		inst, err := construct(sel, raw)
		return inst, raw, err
	default:
		v, err := scalarValue(sel, row[sel.Column])
		return v, v, err
	}
}

// fromCached rebuilds results from compact rows; entities come from the
// identity map, the entity cache or the database
func (s *Session) fromCached(ctx context.Context, tr *query.Translation, rows [][]any) ([]any, error) {
	results := make([]any, 0, len(rows))
	for _, crow := range rows {
		if len(crow) != len(tr.Selections) {
			return nil, fmt.Errorf("cached row has %d values, want %d", len(crow), len(tr.Selections))
		}
		values := make([]any, len(crow))
		for i, sel := range tr.Selections {
			switch sel.Kind {
			case query.SelectEntity, query.SelectReference:
				inst, err := s.find(ctx, sel.Entity, crow[i])
				if err != nil {
					return nil, err
				}
				values[i] = inst
			case query.SelectConstructor:
				raw, ok := crow[i].([]any)
				if !ok || len(raw) != len(sel.Args) {
					return nil, fmt.Errorf("cached constructor row for %s is malformed", sel.Entity.Name)
				}
				inst, err := construct(sel, raw)
				if err != nil {
					return nil, err
				}
				values[i] = inst
			default:
				v, err := scalarValue(sel, crow[i])
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
		}
		results = append(results, shape(values))
	}
	return results, nil
}

// construct fills a new, unmanaged instance from constructor arguments
func construct(sel query.Selection, raw []any) (any, error) {
	ptr := sel.Entity.New()
	for i, arg := range sel.Args {
		if err := mapping.Assign(ptr.Elem().FieldByIndex(arg.Field.Index), raw[i]); err != nil {
			return nil, fmt.Errorf("NEW %s(%s): %w", sel.Entity.Name, arg.Property, err)
		}
	}
	return ptr.Interface(), nil
}

// scalarValue converts a column to the type of the selected field, when the
// selection is a plain property
func scalarValue(sel query.Selection, raw any) (any, error) {
	raw = normalizeScalar(raw)
	if sel.Field == nil || raw == nil {
		return raw, nil
	}
	dst := reflect.New(sel.Field.Type).Elem()
	if err := mapping.Assign(dst, raw); err != nil {
		return nil, fmt.Errorf("%s: %w", sel.Field.Name, err)
	}
	return dst.Interface(), nil
}

// normalizeScalar widens driver and codec integer types and reads bytes as text
func normalizeScalar(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return mapping.NormalizeID(x)
	case float32:
		return float64(x)
	}
	return v
}

func shape(values []any) any {
	if len(values) == 1 {
		return values[0]
	}
	return values
}

func containsInstance(list []any, v any) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func distinctInstances(results []any) []any {
	out := results[:0]
	seen := map[any]bool{}
	for _, r := range results {
		if r == nil || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func page(results []any, first, limit int) []any {
	if first >= len(results) {
		return nil
	}
	results = results[first:]
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

// ============================================================================
// Native queries
// ============================================================================

// nativeArgs orders positional parameters by position; entities bind as
// their key
func (q *Query) nativeArgs() ([]any, error) {
	if len(q.params.Named) > 0 {
		return nil, fmt.Errorf("native queries take positional parameters only")
	}
	positions := make([]int, 0, len(q.params.Positional))
	for p := range q.params.Positional {
		positions = append(positions, p)
	}
	sort.Ints(positions)
	args := make([]any, len(positions))
	for i, p := range positions {
		if p != i+1 {
			return nil, fmt.Errorf("native query parameter %d is not bound", i+1)
		}
		args[i] = q.s.bindValue(q.params.Positional[p])
	}
	return args, nil
}

func (s *Session) bindValue(v any) any {
	if v == nil {
		return nil
	}
	if meta, err := s.factory.registry.Of(v); err == nil {
		rv, _ := meta.Value(v)
		return meta.IDOf(rv)
	}
	return mapping.DatabaseValue(v)
}

func (q *Query) nativeList(ctx context.Context) ([]any, error) {
	s := q.s
	args, err := q.nativeArgs()
	if err != nil {
		return nil, err
	}
	if err := s.autoFlush(ctx); err != nil {
		return nil, err
	}
	s.factory.stats.queries.Add(1)

	cols, rows, err := db.QueryAllColumns(ctx, s.exec(), q.text, args...)
	if err != nil {
		return nil, fmt.Errorf("native query failed: %w", err)
	}
	s.factory.stats.selects.Add(1)

	results := make([]any, 0, len(rows))
	if q.result == nil {
		for _, row := range rows {
			values := make([]any, len(row))
			for i, v := range row {
				values[i] = normalizeScalar(v)
			}
			results = append(results, shape(values))
		}
		return page(results, q.firstResult, q.maxResults), nil
	}

	meta := q.result
	positions, err := columnPositions(meta, cols)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		values := make([]any, len(positions))
		for i, p := range positions {
			values[i] = row[p]
		}
		inst, err := s.assemble(ctx, meta, values, false)
		if err != nil {
			return nil, err
		}
		results = append(results, inst)
	}
	return page(results, q.firstResult, q.maxResults), nil
}

// columnPositions maps the entity's state columns onto result columns
func columnPositions(meta *mapping.Entity, cols []string) ([]int, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[strings.ToUpper(c)] = i
	}
	want := meta.Columns()
	positions := make([]int, len(want))
	for i, c := range want {
		p, ok := index[strings.ToUpper(c)]
		if !ok {
			return nil, fmt.Errorf("native result for %s lacks column %s", meta.Name, c)
		}
		positions[i] = p
	}
	return positions, nil
}

// ============================================================================
// Typed results
// ============================================================================

// ResultList runs q and converts every result to T
func ResultList[T any](ctx context.Context, q *Query) ([]T, error) {
	results, err := q.ResultList(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(results))
	for i, r := range results {
		if out[i], err = convert[T](r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SingleResult runs q, expects one result and converts it to T
func SingleResult[T any](ctx context.Context, q *Query) (T, error) {
	r, err := q.SingleResult(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return convert[T](r)
}

func convert[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	if err := mapping.Assign(reflect.ValueOf(&out).Elem(), v); err != nil {
		return out, fmt.Errorf("cannot convert %T to %T: %w", v, out, err)
	}
	return out, nil
}
