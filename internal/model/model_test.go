package model

import (
	"testing"

	"github.com/ammar0144/persist4go/pkg/db"
	"github.com/ammar0144/persist4go/pkg/mapping"
)

func TestRegistryMapsDemoEntities(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	tables := map[string]string{
		"Customer":   "JPA_CUSTOMERS",
		"Order":      "JPA_ORDERS",
		"Department": "JPA_DEPARTMENTS",
		"Manager":    "JPA_MANAGERS",
		"Item":       "JPA_ITEMS",
		"Category":   "JPA_CATEGORIES",
	}
	for name, table := range tables {
		e, err := reg.ByName(name)
		if err != nil {
			t.Fatalf("ByName(%s): %v", name, err)
		}
		if e.Table != table {
			t.Errorf("%s table = %s, want %s", name, e.Table, table)
		}
	}

	c, _ := mapping.EntityOf[Customer](reg)
	if !c.Cacheable || c.Generation != mapping.GenerateIdentity {
		t.Errorf("customer cacheable=%v generation=%s", c.Cacheable, c.Generation)
	}
	if f := c.Field("lastName"); f == nil || f.Column != "LAST_NAME" || f.Size != 50 || !f.NotNull {
		t.Errorf("lastName = %+v", f)
	}
	if f := c.Field("createdTime"); f == nil || f.Column != "CREATED_TIME" || f.Temporal != db.TemporalTimestamp {
		t.Errorf("createdTime = %+v", f)
	}
	if f := c.Field("birth"); f == nil || f.Temporal != db.TemporalDate {
		t.Errorf("birth = %+v", f)
	}
	orders := c.Relation("orders")
	if orders == nil || orders.Kind != mapping.OneToMany || orders.Owning() || orders.Fetch != mapping.FetchLazy || !orders.Cascade.Has(mapping.CascadeRemove) {
		t.Fatalf("orders = %+v", orders)
	}
	if q, ok := reg.NamedQuery("customerByID"); !ok || q != "FROM Customer c WHERE c.id = ?" {
		t.Errorf("named query = %q, %v", q, ok)
	}

	o, _ := mapping.EntityOf[Order](reg)
	cust := o.Relation("customer")
	if cust == nil || cust.Kind != mapping.ManyToOne || cust.JoinColumn != "CUSTOMER_ID" || cust.Fetch != mapping.FetchLazy || cust.Target != c {
		t.Errorf("order.customer = %+v", cust)
	}
	if orders.Inverse() != cust {
		t.Error("customer.orders must be mapped by order.customer")
	}

	d, _ := mapping.EntityOf[Department](reg)
	mgr := d.Relation("mgr")
	if mgr == nil || mgr.Kind != mapping.OneToOne || mgr.JoinColumn != "MGR_ID" || !mgr.Unique || !mgr.Owning() {
		t.Errorf("department.mgr = %+v", mgr)
	}
	m, _ := mapping.EntityOf[Manager](reg)
	if m.Generation != mapping.GenerateTable || m.Generator != "MANAGER_ID" {
		t.Errorf("manager generation = %s/%s", m.Generation, m.Generator)
	}
	if dept := m.Relation("dept"); dept == nil || dept.Owning() || dept.Inverse() != mgr || dept.Fetch != mapping.FetchEager {
		t.Errorf("manager.dept = %+v", dept)
	}

	i, _ := mapping.EntityOf[Item](reg)
	cats := i.Relation("categories")
	if cats == nil || cats.JoinTable != "JPA_ITEM_CATEGORIES" || cats.JoinColumn != "ITEM_ID" || cats.InverseJoinColumn != "CATEGORY_ID" {
		t.Errorf("item.categories = %+v", cats)
	}
	cat, _ := mapping.EntityOf[Category](reg)
	if cat.Generation != mapping.GenerateUUID {
		t.Errorf("category generation = %s", cat.Generation)
	}
	if items := cat.Relation("items"); items == nil || items.Inverse() != cats {
		t.Errorf("category.items = %+v", items)
	}
}

func TestSchemaIncludesJoinTable(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	defs := reg.TableDefs()
	pos := map[string]int{}
	for i, d := range defs {
		pos[d.Name] = i
	}
	if len(defs) != 7 {
		t.Fatalf("got %d tables, want 7", len(defs))
	}
	if pos["JPA_CUSTOMERS"] > pos["JPA_ORDERS"] || pos["JPA_MANAGERS"] > pos["JPA_DEPARTMENTS"] {
		t.Errorf("referenced tables must come first: %v", pos)
	}
	if pos["JPA_ITEM_CATEGORIES"] != len(defs)-1 {
		t.Errorf("join table position = %d", pos["JPA_ITEM_CATEGORIES"])
	}
}

func TestCustomerInfo(t *testing.T) {
	c := &Customer{LastName: "Tom", Email: "tom@example.com"}
	if got := c.Info(); got != "lastName: Tom, email: tom@example.com" {
		t.Errorf("Info() = %q", got)
	}
}
