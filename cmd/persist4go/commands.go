package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ammar0144/persist4go"
	"github.com/ammar0144/persist4go/internal/model"
	"github.com/ammar0144/persist4go/pkg/session"
)

// ============================================================================
// schema
// ============================================================================

func newSchemaCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create or drop the mapped tables",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create missing tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSchema(cmd, opts, (*persist4go.Factory).CreateSchema, "created")
			},
		},
		&cobra.Command{
			Use:   "drop",
			Short: "Drop every mapped table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSchema(cmd, opts, (*persist4go.Factory).DropSchema, "dropped")
			},
		},
	)
	return cmd
}

func runSchema(cmd *cobra.Command, opts *options, action func(*persist4go.Factory, context.Context) error, verb string) error {
	ctx := cmd.Context()
	f, err := open(ctx, opts, session.SchemaNone)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := action(f, ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema %s (%d entities)\n", verb, len(f.Registry().Entities()))
	return nil
}

// ============================================================================
// query
// ============================================================================

type queryOptions struct {
	params []string
	named  []string
	first  int
	max    int
	native bool
}

func newQueryCmd(opts *options) *cobra.Command {
	qo := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query <statement>",
		Short: "Run an object query, or a native SQL statement with --native",
		Example: `  persist4go query "SELECT c FROM Customer c WHERE c.age > ?" --param 18
  persist4go query "UPDATE Customer c SET c.email = :email WHERE c.id = 1" --named email=a@b.c
  persist4go query --native "SELECT count(*) FROM JPA_ORDERS"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, qo, args[0])
		},
	}
	cmd.Flags().StringArrayVarP(&qo.params, "param", "p", nil, "Positional parameter, bound in order from 1 (repeatable)")
	cmd.Flags().StringArrayVar(&qo.named, "named", nil, "Named parameter as name=value (repeatable)")
	cmd.Flags().IntVar(&qo.first, "first", 0, "Index of the first result")
	cmd.Flags().IntVar(&qo.max, "max", 0, "Maximum number of results (0 means all)")
	cmd.Flags().BoolVar(&qo.native, "native", false, "Treat the statement as native SQL")
	return cmd
}

// parseParam turns numeric text into int64 or float64 and leaves anything
// else as a string
func parseParam(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}

func isUpdate(statement string) bool {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "UPDATE", "DELETE", "INSERT":
		return true
	}
	return false
}

func (qo *queryOptions) bind(q *persist4go.Query) (*persist4go.Query, error) {
	for i, raw := range qo.params {
		q = q.SetParameter(i+1, parseParam(raw))
	}
	for _, pair := range qo.named {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid named parameter %q, want name=value", pair)
		}
		q = q.SetNamedParameter(name, parseParam(value))
	}
	if qo.first > 0 {
		q = q.SetFirstResult(qo.first)
	}
	if qo.max > 0 {
		q = q.SetMaxResults(qo.max)
	}
	return q, q.Err()
}

func runQuery(cmd *cobra.Command, opts *options, qo *queryOptions, statement string) error {
	ctx := cmd.Context()
	f, err := open(ctx, opts, "")
	if err != nil {
		return err
	}
	defer f.Close()

	s := f.NewSession()
	defer s.Close()

	create := func(s *persist4go.Session) *persist4go.Query {
		if qo.native {
			return s.CreateNativeQuery(statement, nil)
		}
		return s.CreateQuery(statement)
	}
	out := cmd.OutOrStdout()

	if isUpdate(statement) {
		return s.Transaction(ctx, func(s *persist4go.Session) error {
			q, err := qo.bind(create(s))
			if err != nil {
				return err
			}
			n, err := q.ExecuteUpdate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d rows affected\n", n)
			return nil
		})
	}

	q, err := qo.bind(create(s))
	if err != nil {
		return err
	}
	results, err := q.ResultList(ctx)
	if err != nil {
		return err
	}
	printResults(out, results)
	return nil
}

func printResults(out io.Writer, results []any) {
	for _, r := range results {
		if tuple, ok := r.([]any); ok {
			parts := make([]string, len(tuple))
			for i, v := range tuple {
				parts[i] = fmt.Sprint(v)
			}
			fmt.Fprintln(out, strings.Join(parts, "\t"))
			continue
		}
		fmt.Fprintln(out, r)
	}
	fmt.Fprintf(out, "(%d rows)\n", len(results))
}

// ============================================================================
// demo
// ============================================================================

func newDemoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Persist the sample entities and run a few queries against them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := open(ctx, opts, "")
			if err != nil {
				return err
			}
			defer f.Close()
			return runDemo(ctx, f, cmd.OutOrStdout())
		},
	}
}

func runDemo(ctx context.Context, f *persist4go.Factory, out io.Writer) error {
	now := time.Now()
	customer := &model.Customer{LastName: "DUN", Email: "admin@dun.so", Age: 18, CreatedTime: now, Birth: now}
	dept := &model.Department{DeptName: "D-AA"}

	s := f.NewSession()
	err := s.Transaction(ctx, func(s *persist4go.Session) error {
		if err := s.Persist(ctx, customer); err != nil {
			return err
		}
		for _, name := range []string{"O-1", "O-2"} {
			o := &model.Order{Name: name}
			o.Customer.Set(customer)
			customer.Orders.Add(o)
			if err := s.Persist(ctx, o); err != nil {
				return err
			}
		}

		mgr := &model.Manager{MgrName: "M-AA"}
		dept.Mgr.Set(mgr)
		if err := s.Persist(ctx, mgr); err != nil {
			return err
		}
		if err := s.Persist(ctx, dept); err != nil {
			return err
		}

		c1 := &model.Category{CategoryName: "C-AA"}
		c2 := &model.Category{CategoryName: "C-BB"}
		entities := []any{
			c1, c2,
			&model.Item{ItemName: "I-AA", Categories: persist4go.SetOf(c1, c2)},
			&model.Item{ItemName: "I-BB", Categories: persist4go.SetOf(c1)},
		}
		for _, e := range entities {
			if err := s.Persist(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	s.Close()
	if err != nil {
		return fmt.Errorf("demo persist failed: %w", err)
	}
	fmt.Fprintf(out, "persisted %s\n", customer)

	s = f.NewSession()
	defer s.Close()

	found, err := persist4go.Find[model.Customer](ctx, s, customer.ID)
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("customer %d not found", customer.ID)
	}
	orders, err := found.Orders.Items()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s has %d orders\n", found.LastName, len(orders))

	counts, err := persist4go.ResultList[[]any](ctx, s.CreateQuery(
		"SELECT c.lastName, count(o.id) FROM Order o JOIN o.customer c GROUP BY c.lastName"))
	if err != nil {
		return err
	}
	for _, row := range counts {
		fmt.Fprintf(out, "orders of %v: %v\n", row[0], row[1])
	}

	items, err := persist4go.ResultList[*model.Item](ctx, s.CreateQuery(
		"FROM Item i LEFT JOIN FETCH i.categories ORDER BY i.itemName"))
	if err != nil {
		return err
	}
	for _, item := range items {
		n, err := item.Categories.Len()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s in %d categories\n", item.ItemName, n)
	}

	d, err := persist4go.SingleResult[*model.Department](ctx, s.CreateQuery(
		"SELECT d FROM Department d WHERE d.id = :id").SetNamedParameter("id", dept.ID))
	if err != nil {
		return err
	}
	mgr, err := d.Mgr.Get()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s is managed by %s\n", d.DeptName, mgr.MgrName)

	stats := f.Statistics()
	fmt.Fprintf(out, "statistics: selects=%d inserts=%d updates=%d deletes=%d queries=%d transactions=%d\n",
		stats.Selects, stats.Inserts, stats.Updates, stats.Deletes, stats.Queries, stats.Transactions)
	metrics := f.CacheMetrics()
	fmt.Fprintf(out, "cache: hits=%d misses=%d puts=%d\n", metrics.CacheHits, metrics.CacheMisses, metrics.EntityPuts)
	return nil
}
