package session

import (
	"context"
	"errors"
	"testing"

	"github.com/ammar0144/persist4go/internal/model"
	"github.com/ammar0144/persist4go/pkg/query"
)

// seedShop stores three customers: AA (age 10) with two orders, BB (age 20)
// with one order, CC (age 30) with none
func seedShop(t *testing.T, f *Factory) (aa, bb, cc int64) {
	t.Helper()
	aa = seedCustomer(t, f, "AA", 10, "O-A1", "O-A2")
	bb = seedCustomer(t, f, "BB", 20, "O-B1")
	cc = seedCustomer(t, f, "CC", 30)
	return aa, bb, cc
}

func lastNames(t *testing.T, customers []*model.Customer) []string {
	t.Helper()
	out := make([]string, len(customers))
	for i, c := range customers {
		out[i] = c.LastName
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueryEntities(t *testing.T) {
	f := newFactory(t)
	seedShop(t, f)
	ctx := context.Background()

	tests := []struct {
		name  string
		build func(s *Session) *Query
		want  []string
	}{
		{
			name: "where with positional parameter",
			build: func(s *Session) *Query {
				return s.CreateQuery("FROM Customer c WHERE c.age > ?").SetParameter(1, 15)
			},
			want: []string{"BB", "CC"},
		},
		{
			name: "order by descending",
			build: func(s *Session) *Query {
				return s.CreateQuery("SELECT c FROM Customer c WHERE c.age > ?1 ORDER BY c.age DESC").SetParameter(1, 1)
			},
			want: []string{"CC", "BB", "AA"},
		},
		{
			name: "named parameter",
			build: func(s *Session) *Query {
				return s.CreateQuery("SELECT c FROM Customer c WHERE c.lastName = :name").SetNamedParameter("name", "BB")
			},
			want: []string{"BB"},
		},
		{
			name: "paging",
			build: func(s *Session) *Query {
				return s.CreateQuery("FROM Customer c ORDER BY c.id").SetFirstResult(1).SetMaxResults(1)
			},
			want: []string{"BB"},
		},
		{
			name: "scalar subquery",
			build: func(s *Session) *Query {
				return s.CreateQuery("SELECT o.customer FROM Order o WHERE o.customer = (SELECT c FROM Customer c WHERE c.lastName = ?)").
					SetParameter(1, "BB")
			},
			want: []string{"BB"},
		},
		{
			name: "group by with having",
			build: func(s *Session) *Query {
				return s.CreateQuery("SELECT o.customer FROM Order o GROUP BY o.customer HAVING count(o.id) > 1")
			},
			want: []string{"AA"},
		},
		{
			name: "in list",
			build: func(s *Session) *Query {
				return s.CreateQuery("FROM Customer c WHERE c.lastName IN :names ORDER BY c.lastName").
					SetNamedParameter("names", []string{"AA", "CC"})
			},
			want: []string{"AA", "CC"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := f.NewSession()
			defer s.Close()
			got, err := ResultList[*model.Customer](ctx, tt.build(s))
			if err != nil {
				t.Fatalf("ResultList: %v", err)
			}
			if names := lastNames(t, got); !equalStrings(names, tt.want) {
				t.Errorf("got %v, want %v", names, tt.want)
			}
		})
	}
}

func TestQueryResultsAreManaged(t *testing.T) {
	f := newFactory(t)
	aa, _, _ := seedShop(t, f)
	ctx := context.Background()

	s := f.NewSession()
	defer s.Close()
	c, err := Find[model.Customer](ctx, s, aa)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got, err := SingleResult[*model.Customer](ctx, s.CreateNamedQuery("customerByID").SetParameter(1, aa))
	if err != nil {
		t.Fatalf("SingleResult: %v", err)
	}
	if got != c {
		t.Error("query should return the instance already in the session")
	}
}

func TestQueryScalars(t *testing.T) {
	f := newFactory(t)
	seedShop(t, f)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	names, err := ResultList[string](ctx, s.CreateQuery("SELECT upper(c.email) FROM Customer c ORDER BY c.lastName"))
	if err != nil {
		t.Fatalf("upper: %v", err)
	}
	if !equalStrings(names, []string{"AA@EXAMPLE.COM", "BB@EXAMPLE.COM", "CC@EXAMPLE.COM"}) {
		t.Errorf("upper = %v", names)
	}

	count, err := SingleResult[int64](ctx, s.CreateQuery("SELECT count(*) FROM Customer c"))
	if err != nil || count != 3 {
		t.Errorf("count = %d, %v", count, err)
	}

	ages, err := ResultList[int](ctx, s.CreateQuery("SELECT c.age FROM Customer c WHERE c.age >= ? ORDER BY c.age").SetParameter(1, 20))
	if err != nil || len(ages) != 2 || ages[0] != 20 || ages[1] != 30 {
		t.Errorf("ages = %v, %v", ages, err)
	}

	rows, err := s.CreateQuery("SELECT c.lastName, c.age FROM Customer c WHERE c.id = ?").SetParameter(1, int64(1)).ResultList(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("tuple = %v, %v", rows, err)
	}
	tuple, ok := rows[0].([]any)
	if !ok || len(tuple) != 2 || tuple[0] != "AA" || tuple[1] != 10 {
		t.Errorf("tuple = %#v", rows[0])
	}
}

func TestQueryConstructor(t *testing.T) {
	f := newFactory(t)
	seedShop(t, f)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	got, err := ResultList[*model.Customer](ctx,
		s.CreateQuery("SELECT new Customer(c.lastName, c.age) FROM Customer c WHERE c.age > ? ORDER BY c.age").SetParameter(1, 15))
	if err != nil {
		t.Fatalf("ResultList: %v", err)
	}
	if len(got) != 2 || got[0].LastName != "BB" || got[0].Age != 20 || got[1].LastName != "CC" {
		t.Fatalf("got %v", got)
	}
	if got[0].ID != 0 || s.Contains(got[0]) {
		t.Error("constructed results should be unmanaged and carry only the selected values")
	}
}

func TestQueryFetchJoin(t *testing.T) {
	f := newFactory(t)
	aa, _, _ := seedShop(t, f)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	got, err := ResultList[*model.Customer](ctx,
		s.CreateQuery("FROM Customer c LEFT OUTER JOIN FETCH c.orders WHERE c.id = ?").SetParameter(1, aa))
	if err != nil {
		t.Fatalf("ResultList: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("fetch join should return each root once, got %d", len(got))
	}
	if !got[0].Orders.Loaded() {
		t.Fatal("fetched collection should be loaded")
	}

	before := f.Statistics().Selects
	if n, err := got[0].Orders.Len(); err != nil || n != 2 {
		t.Errorf("orders = %d, %v", n, err)
	}
	if after := f.Statistics().Selects; after != before {
		t.Errorf("fetched collection issued %d selects", after-before)
	}

	// customers without orders survive the outer join with an empty set
	all, err := ResultList[*model.Customer](ctx, s.CreateQuery("FROM Customer c LEFT JOIN FETCH c.orders ORDER BY c.id"))
	if err != nil {
		t.Fatalf("ResultList: %v", err)
	}
	if names := lastNames(t, all); !equalStrings(names, []string{"AA", "BB", "CC"}) {
		t.Errorf("got %v", names)
	}
}

func TestQueryPlainJoinReturnsTuples(t *testing.T) {
	f := newFactory(t)
	aa, _, _ := seedShop(t, f)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	rows, err := s.CreateQuery("FROM Customer c LEFT OUTER JOIN c.orders WHERE c.id = ?").SetParameter(1, aa).ResultList(ctx)
	if err != nil {
		t.Fatalf("ResultList: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want one per order", len(rows))
	}
	for _, r := range rows {
		tuple, ok := r.([]any)
		if !ok || len(tuple) != 2 {
			t.Fatalf("row = %#v", r)
		}
		if _, ok := tuple[0].(*model.Customer); !ok {
			t.Errorf("first value = %T", tuple[0])
		}
		if _, ok := tuple[1].(*model.Order); !ok {
			t.Errorf("second value = %T", tuple[1])
		}
	}
}

func TestQuerySingleResult(t *testing.T) {
	f := newFactory(t)
	seedShop(t, f)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	if _, err := s.CreateQuery("FROM Customer c WHERE c.age > 100").SingleResult(ctx); !IsNoResult(err) {
		t.Errorf("no rows = %v, want ErrNoResult", err)
	}
	if _, err := s.CreateQuery("FROM Customer c").SingleResult(ctx); !IsNonUniqueResult(err) {
		t.Errorf("many rows = %v, want ErrNonUniqueResult", err)
	}
}

func TestQueryErrors(t *testing.T) {
	f := newFactory(t)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	if _, err := s.CreateQuery("FROM Customer c WHERE").ResultList(ctx); !query.IsSyntax(err) {
		t.Errorf("syntax error = %v", err)
	}
	if _, err := s.CreateQuery("FROM Customer c WHERE c.nickname = 1").ResultList(ctx); !query.IsSemantic(err) {
		t.Errorf("semantic error = %v", err)
	}
	if err := s.CreateNamedQuery("nope").Err(); !errors.Is(err, ErrUnknownQuery) {
		t.Errorf("unknown named query = %v", err)
	}
	if _, err := s.CreateQuery("DELETE FROM Order o").ResultList(ctx); !query.IsSemantic(err) {
		t.Errorf("delete through ResultList = %v", err)
	}
	if _, err := s.CreateQuery("DELETE FROM Order o").ExecuteUpdate(ctx); !IsTransactionRequired(err) {
		t.Errorf("bulk delete outside transaction = %v", err)
	}
}

func TestBulkUpdateAndDelete(t *testing.T) {
	f := newFactory(t)
	aa, bb, _ := seedShop(t, f)
	ctx := context.Background()

	inTx(t, f, func(s *Session) error {
		n, err := s.CreateQuery("UPDATE Customer c SET c.lastName = ? WHERE c.id = ?").
			SetParameter(1, "dunso").SetParameter(2, bb).ExecuteUpdate(ctx)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("updated %d rows, want 1", n)
		}
		n, err = s.CreateQuery("DELETE FROM Order o WHERE o.customer.id = ?").SetParameter(1, aa).ExecuteUpdate(ctx)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("deleted %d rows, want 2", n)
		}
		return nil
	})

	s := f.NewSession()
	defer s.Close()
	c, err := Find[model.Customer](ctx, s, bb)
	if err != nil || c.LastName != "dunso" {
		t.Errorf("after bulk update: %v, %v", c, err)
	}
	n, err := SingleResult[int64](ctx, s.CreateQuery("SELECT count(o.id) FROM Order o"))
	if err != nil || n != 1 {
		t.Errorf("orders left = %d, %v", n, err)
	}
}

func TestAutoFlushBeforeQuery(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, mode FlushMode) int {
		f := newFactory(t, func(c *Config) { c.FlushMode = mode })
		seedShop(t, f)
		var found int
		inTx(t, f, func(s *Session) error {
			c, err := SingleResult[*model.Customer](ctx, s.CreateQuery("FROM Customer c WHERE c.lastName = 'CC'"))
			if err != nil {
				return err
			}
			c.Age = 99
			got, err := s.CreateQuery("FROM Customer c WHERE c.age = 99").ResultList(ctx)
			found = len(got)
			return err
		})
		return found
	}

	if n := run(t, FlushAuto); n != 1 {
		t.Errorf("AUTO flush found %d rows, want 1", n)
	}
	if n := run(t, FlushCommit); n != 0 {
		t.Errorf("COMMIT flush found %d rows, want 0", n)
	}
}

func TestNativeQuery(t *testing.T) {
	f := newFactory(t)
	_, bb, _ := seedShop(t, f)
	ctx := context.Background()
	s := f.NewSession()
	defer s.Close()

	rows, err := s.CreateNativeQuery("SELECT LAST_NAME, AGE FROM JPA_CUSTOMERS WHERE AGE > ? ORDER BY AGE", nil).
		SetParameter(1, 15).ResultList(ctx)
	if err != nil {
		t.Fatalf("ResultList: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if tuple := rows[0].([]any); tuple[0] != "BB" || tuple[1] != int64(20) {
		t.Errorf("first row = %#v", tuple)
	}

	c, err := Find[model.Customer](ctx, s, bb)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got, err := ResultList[*model.Customer](ctx,
		s.CreateNativeQuery("SELECT * FROM JPA_CUSTOMERS ORDER BY ID", &model.Customer{}))
	if err != nil {
		t.Fatalf("entity result: %v", err)
	}
	if len(got) != 3 || got[1] != c {
		t.Errorf("entity results = %v; second should be the managed BB", got)
	}

	if _, err := s.CreateNativeQuery("SELECT 1", nil).SetNamedParameter("x", 1).ResultList(ctx); err == nil {
		t.Error("named parameters should be rejected for native queries")
	}
}

func TestNativeUpdate(t *testing.T) {
	f := newFactory(t)
	_, bb, _ := seedShop(t, f)
	ctx := context.Background()

	inTx(t, f, func(s *Session) error {
		n, err := s.CreateNativeQuery("UPDATE JPA_CUSTOMERS SET AGE = AGE + 1", nil).ExecuteUpdate(ctx)
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("updated %d rows, want 3", n)
		}
		return nil
	})

	s := f.NewSession()
	defer s.Close()
	c, err := Find[model.Customer](ctx, s, bb)
	if err != nil || c.Age != 21 {
		t.Errorf("age = %d, %v", c.Age, err)
	}
}
