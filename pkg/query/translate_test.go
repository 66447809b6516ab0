package query

import (
	"reflect"
	"testing"

	"github.com/ammar0144/persist4go/internal/model"
	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

const customerColumns = "t0.ID, t0.LAST_NAME, t0.EMAIL, t0.AGE, t0.CREATED_TIME, t0.BIRTH"

func newRegistry(t *testing.T) *mapping.Registry {
	t.Helper()
	reg, err := model.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func translate(t *testing.T, reg *mapping.Registry, text string, opts Options) *Translation {
	t.Helper()
	stmt, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	if opts.Dialect == "" {
		opts.Dialect = db.DriverSQLite
	}
	tr, err := Translate(stmt, reg, opts)
	if err != nil {
		t.Fatalf("Translate(%q): %v", text, err)
	}
	return tr
}

func positional(values ...any) Params {
	p := Params{Positional: map[int]any{}}
	for i, v := range values {
		p.Positional[i+1] = v
	}
	return p
}

func TestTranslateSQL(t *testing.T) {
	reg := newRegistry(t)

	tests := []struct {
		name    string
		query   string
		opts    Options
		sql     string
		args    []any
		dialect string
	}{
		{
			name:  "where with positional parameter",
			query: "FROM Customer c WHERE c.age > ?",
			opts:  Options{Params: positional(1)},
			sql:   "SELECT " + customerColumns + " FROM JPA_CUSTOMERS t0 WHERE t0.AGE > ?",
			args:  []any{1},
		},
		{
			name:  "order by",
			query: "SELECT c FROM Customer c WHERE c.age > ?1 ORDER BY c.age DESC, c.lastName",
			opts:  Options{Params: positional(18)},
			sql:   "SELECT " + customerColumns + " FROM JPA_CUSTOMERS t0 WHERE t0.AGE > ? ORDER BY t0.AGE DESC, t0.LAST_NAME",
			args:  []any{18},
		},
		{
			name:  "order by select alias",
			query: "SELECT c.lastName AS name FROM Customer c ORDER BY name DESC",
			sql:   "SELECT t0.LAST_NAME FROM JPA_CUSTOMERS t0 ORDER BY t0.LAST_NAME DESC",
		},
		{
			name:  "constructor",
			query: "SELECT new Customer(c.lastName, c.age) from Customer c WHERE c.id > ?",
			opts:  Options{Params: positional(int64(1))},
			sql:   "SELECT t0.LAST_NAME, t0.AGE FROM JPA_CUSTOMERS t0 WHERE t0.ID > ?",
			args:  []any{int64(1)},
		},
		{
			name:  "group by entity with having",
			query: "SELECT o.customer FROM Order o GROUP BY o.customer HAVING count(o.id) > 1",
			sql:   "SELECT t0.CUSTOMER_ID FROM JPA_ORDERS t0 GROUP BY t0.CUSTOMER_ID HAVING COUNT(t0.ID) > 1",
		},
		{
			name:  "collection fetch join",
			query: "FROM Customer c LEFT OUTER JOIN FETCH c.orders WHERE c.id = ?",
			opts:  Options{Params: positional(int64(12))},
			sql: "SELECT " + customerColumns + ", t1.ID, t1.ORDER_NAME, t1.CUSTOMER_ID FROM JPA_CUSTOMERS t0 " +
				"LEFT JOIN JPA_ORDERS t1 ON t1.CUSTOMER_ID = t0.ID WHERE t0.ID = ?",
			args: []any{int64(12)},
		},
		{
			name:  "plain join returns a tuple",
			query: "FROM Customer c LEFT OUTER JOIN c.orders WHERE c.id = ?",
			opts:  Options{Params: positional(int64(12))},
			sql: "SELECT " + customerColumns + ", t1.ID, t1.ORDER_NAME, t1.CUSTOMER_ID FROM JPA_CUSTOMERS t0 " +
				"LEFT JOIN JPA_ORDERS t1 ON t1.CUSTOMER_ID = t0.ID WHERE t0.ID = ?",
			args: []any{int64(12)},
		},
		{
			name:  "scalar subquery on an entity",
			query: "SELECT o FROM Order o WHERE o.customer = (SELECT c FROM Customer c WHERE c.lastName = ?)",
			opts:  Options{Params: positional("YY")},
			sql: "SELECT t0.ID, t0.ORDER_NAME, t0.CUSTOMER_ID FROM JPA_ORDERS t0 " +
				"WHERE t0.CUSTOMER_ID = (SELECT t1.ID FROM JPA_CUSTOMERS t1 WHERE t1.LAST_NAME = ?)",
			args: []any{"YY"},
		},
		{
			name:  "function in select list",
			query: "SELECT upper(c.email) FROM Customer c",
			sql:   "SELECT UPPER(t0.EMAIL) FROM JPA_CUSTOMERS t0",
		},
		{
			name:  "implicit join through a to-one path",
			query: "SELECT o FROM Order o WHERE o.customer.lastName = :name",
			opts:  Options{Params: Params{Named: map[string]any{"name": "Tom"}}},
			sql: "SELECT t0.ID, t0.ORDER_NAME, t0.CUSTOMER_ID FROM JPA_ORDERS t0 " +
				"INNER JOIN JPA_CUSTOMERS t1 ON t1.ID = t0.CUSTOMER_ID WHERE t1.LAST_NAME = ?",
			args: []any{"Tom"},
		},
		{
			name:  "foreign key id without a join",
			query: "SELECT o.name FROM Order o WHERE o.customer.id = 3",
			sql:   "SELECT t0.ORDER_NAME FROM JPA_ORDERS t0 WHERE t0.CUSTOMER_ID = 3",
		},
		{
			name:  "many-to-many join",
			query: "SELECT c.categoryName FROM Item i JOIN i.categories c WHERE i.itemName = 'x'",
			sql: "SELECT t1.CATEGORY_NAME FROM JPA_ITEMS t0 INNER JOIN JPA_ITEM_CATEGORIES t2 ON t2.ITEM_ID = t0.ID " +
				"INNER JOIN JPA_CATEGORIES t1 ON t1.ID = t2.CATEGORY_ID WHERE t0.ITEM_NAME = ?",
			args: []any{"x"},
		},
		{
			name:  "inverse many-to-many join",
			query: "SELECT i.itemName FROM Category c JOIN c.items i",
			sql: "SELECT t1.ITEM_NAME FROM JPA_CATEGORIES t0 INNER JOIN JPA_ITEM_CATEGORIES t2 ON t2.CATEGORY_ID = t0.ID " +
				"INNER JOIN JPA_ITEMS t1 ON t1.ID = t2.ITEM_ID",
		},
		{
			name:  "inverse one-to-one in select list",
			query: "SELECT m.dept FROM Manager m",
			sql:   "SELECT t1.ID, t1.DEPT_NAME, t1.MGR_ID FROM JPA_MANAGERS t0 LEFT JOIN JPA_DEPARTMENTS t1 ON t1.MGR_ID = t0.ID",
		},
		{
			name:  "entity parameter binds its id",
			query: "SELECT o FROM Order o WHERE o.customer = ?",
			opts:  Options{Params: positional(&model.Customer{ID: 42})},
			sql:   "SELECT t0.ID, t0.ORDER_NAME, t0.CUSTOMER_ID FROM JPA_ORDERS t0 WHERE t0.CUSTOMER_ID = ?",
			args:  []any{int64(42)},
		},
		{
			name:  "collection parameter expands",
			query: "SELECT c.lastName FROM Customer c WHERE c.id IN :ids",
			opts:  Options{Params: Params{Named: map[string]any{"ids": []int64{1, 2}}}},
			sql:   "SELECT t0.LAST_NAME FROM JPA_CUSTOMERS t0 WHERE t0.ID IN (?, ?)",
			args:  []any{int64(1), int64(2)},
		},
		{
			name:  "empty collection parameter never matches",
			query: "SELECT c.lastName FROM Customer c WHERE c.id IN :ids",
			opts:  Options{Params: Params{Named: map[string]any{"ids": []int64{}}}},
			sql:   "SELECT t0.LAST_NAME FROM JPA_CUSTOMERS t0 WHERE 1 = 0",
		},
		{
			name:  "mixed logic keeps precedence",
			query: "SELECT c.id FROM Customer c WHERE (c.age > 1 OR c.age < 0) AND NOT c.email IS NULL",
			sql:   "SELECT t0.ID FROM JPA_CUSTOMERS t0 WHERE (t0.AGE > 1 OR t0.AGE < 0) AND NOT (t0.EMAIL IS NULL)",
		},
		{
			name:  "count star with paging",
			query: "SELECT count(*) FROM Customer c",
			opts:  Options{FirstResult: 5, MaxResults: 10},
			sql:   "SELECT COUNT(*) FROM JPA_CUSTOMERS t0 LIMIT 10 OFFSET 5",
		},
		{
			name:  "concat on sqlite",
			query: "SELECT concat(c.lastName, '-', c.email) FROM Customer c WHERE c.age = ?",
			opts:  Options{Params: positional(3)},
			sql:   "SELECT (t0.LAST_NAME || ? || t0.EMAIL) FROM JPA_CUSTOMERS t0 WHERE t0.AGE = ?",
			args:  []any{"-", 3},
		},
		{
			name:    "concat and substring on mysql",
			query:   "SELECT concat(c.lastName, substring(c.email, 1, 3)) FROM Customer c",
			dialect: db.DriverMySQL,
			sql:     "SELECT CONCAT(t0.LAST_NAME, SUBSTRING(t0.EMAIL, 1, 3)) FROM JPA_CUSTOMERS t0",
		},
		{
			name:  "bulk update",
			query: "UPDATE Customer c SET c.lastName = ? WHERE c.id = ?",
			opts:  Options{Params: positional("dunso", int64(27))},
			sql:   "UPDATE JPA_CUSTOMERS SET LAST_NAME = ? WHERE JPA_CUSTOMERS.ID = ?",
			args:  []any{"dunso", int64(27)},
		},
		{
			name:  "bulk update with arithmetic",
			query: "UPDATE Customer SET age = age + 1",
			sql:   "UPDATE JPA_CUSTOMERS SET AGE = (JPA_CUSTOMERS.AGE + 1)",
		},
		{
			name:  "bulk delete",
			query: "DELETE FROM Order o WHERE o.customer.id = ?",
			opts:  Options{Params: positional(int64(9))},
			sql:   "DELETE FROM JPA_ORDERS WHERE JPA_ORDERS.CUSTOMER_ID = ?",
			args:  []any{int64(9)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if tt.dialect != "" {
				opts.Dialect = tt.dialect
			}
			tr := translate(t, reg, tt.query, opts)
			if tr.SQL != tt.sql {
				t.Errorf("SQL\n got: %s\nwant: %s", tr.SQL, tt.sql)
			}
			if len(tr.Args) != 0 || len(tt.args) != 0 {
				if !reflect.DeepEqual(tr.Args, tt.args) {
					t.Errorf("args = %#v, want %#v", tr.Args, tt.args)
				}
			}
		})
	}
}

func TestTranslateSelections(t *testing.T) {
	reg := newRegistry(t)
	customer, _ := reg.ByName("Customer")
	order, _ := reg.ByName("Order")

	tr := translate(t, reg, "FROM Customer c LEFT JOIN FETCH c.orders WHERE c.id = ?", Options{Params: positional(int64(1))})
	if len(tr.Selections) != 1 || tr.Selections[0].Kind != SelectEntity || tr.Selections[0].Entity != customer || tr.Selections[0].Width != 6 {
		t.Errorf("selections = %+v", tr.Selections)
	}
	if len(tr.Fetches) != 1 {
		t.Fatalf("fetches = %+v", tr.Fetches)
	}
	f := tr.Fetches[0]
	if f.Owner != customer || f.OwnerColumn != 0 || f.Relation != customer.Relation("orders") || f.Column != 6 {
		t.Errorf("fetch = %+v", f)
	}
	if !reflect.DeepEqual(tr.Tables, []string{"JPA_CUSTOMERS", "JPA_ORDERS"}) {
		t.Errorf("tables = %v", tr.Tables)
	}

	tr = translate(t, reg, "FROM Customer c LEFT JOIN c.orders o", Options{})
	if len(tr.Selections) != 2 || tr.Selections[1].Kind != SelectEntity || tr.Selections[1].Entity != order || tr.Selections[1].Column != 6 {
		t.Errorf("tuple selections = %+v", tr.Selections)
	}

	tr = translate(t, reg, "SELECT o.customer, o.name, max(c.age) FROM Order o JOIN o.customer c GROUP BY o.customer, o.name", Options{})
	if len(tr.Selections) != 3 {
		t.Fatalf("selections = %+v", tr.Selections)
	}
	if s := tr.Selections[0]; s.Kind != SelectReference || s.Entity != customer || s.Column != 0 {
		t.Errorf("reference = %+v", s)
	}
	if s := tr.Selections[1]; s.Kind != SelectScalar || s.Field != order.Field("name") || s.Column != 1 {
		t.Errorf("scalar = %+v", s)
	}
	if s := tr.Selections[2]; s.Kind != SelectScalar || s.Field != customer.Field("age") {
		t.Errorf("max keeps the field type: %+v", s)
	}

	tr = translate(t, reg, "SELECT new Customer(c.lastName, c.age * 2 AS age) FROM Customer c", Options{})
	sel := tr.Selections[0]
	if sel.Kind != SelectConstructor || sel.Entity != customer || len(sel.Args) != 2 {
		t.Fatalf("constructor = %+v", sel)
	}
	if sel.Args[0].Field != customer.Field("lastName") || sel.Args[1].Field != customer.Field("age") || sel.Args[1].Column != 1 {
		t.Errorf("constructor args = %+v", sel.Args)
	}

	tr = translate(t, reg, "UPDATE Customer c SET c.age = 1", Options{})
	if tr.Type != UpdateStatementType || tr.Target != customer {
		t.Errorf("update target = %+v", tr)
	}
}

func TestTranslatePagingWithCollectionFetch(t *testing.T) {
	reg := newRegistry(t)
	tr := translate(t, reg, "FROM Customer c LEFT JOIN FETCH c.orders", Options{MaxResults: 2})
	if !tr.PageInMemory {
		t.Error("collection fetch with paging must page in memory")
	}
	want := "SELECT " + customerColumns + ", t1.ID, t1.ORDER_NAME, t1.CUSTOMER_ID FROM JPA_CUSTOMERS t0 LEFT JOIN JPA_ORDERS t1 ON t1.CUSTOMER_ID = t0.ID"
	if tr.SQL != want {
		t.Errorf("SQL = %s", tr.SQL)
	}

	tr = translate(t, reg, "FROM Order o JOIN FETCH o.customer", Options{MaxResults: 2})
	if tr.PageInMemory {
		t.Error("to-one fetch pages in SQL")
	}
}

func TestTranslateSemanticErrors(t *testing.T) {
	reg := newRegistry(t)
	tests := []struct {
		name   string
		query  string
		params Params
	}{
		{"unknown entity", "FROM Nope n", Params{}},
		{"unknown property", "SELECT c.nope FROM Customer c", Params{}},
		{"unknown alias in join", "FROM Customer c JOIN x.orders o", Params{}},
		{"navigating a collection", "SELECT c.orders.name FROM Customer c", Params{}},
		{"collection as value", "SELECT c FROM Customer c WHERE c.orders = 1", Params{}},
		{"duplicate alias", "FROM Customer c JOIN c.orders c", Params{}},
		{"unbound positional", "FROM Customer c WHERE c.id = ?", Params{}},
		{"unbound named", "FROM Customer c WHERE c.id = :id", Params{}},
		{"entity against scalar", "FROM Order o WHERE o.customer = o.name", Params{}},
		{"unknown function", "SELECT soundex(c.lastName) FROM Customer c", Params{}},
		{"wrong arity", "SELECT upper(c.lastName, c.email) FROM Customer c", Params{}},
		{"fetch without owner", "SELECT o.name FROM Order o JOIN FETCH o.customer", Params{}},
		{"constructor needs property", "SELECT new Customer(upper(c.lastName)) FROM Customer c", Params{}},
		{"subquery with two columns", "FROM Customer c WHERE c.id = (SELECT o.id, o.name FROM Order o)", Params{}},
		{"parameter in order by", "FROM Customer c ORDER BY ?", positional(1)},
		{"bulk update needs a join", "UPDATE Order o SET o.name = 'x' WHERE o.customer.lastName = 'y'", Params{}},
		{"bulk delete needs a join", "DELETE FROM Order o WHERE o.customer.lastName = 'x'", Params{}},
		{"assigning the identifier", "UPDATE Customer c SET c.id = 1", Params{}},
		{"assigning a collection", "UPDATE Customer c SET c.orders = 1", Params{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Parse(tt.query)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.query, err)
			}
			_, err = Translate(stmt, reg, Options{Dialect: db.DriverSQLite, Params: tt.params})
			if !IsSemantic(err) {
				t.Errorf("Translate(%q) = %v, want a semantic error", tt.query, err)
			}
		})
	}
}
