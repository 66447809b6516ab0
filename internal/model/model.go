// Package model holds the demonstration entities: customers with their
// orders, departments with their managers, and items in categories.
package model

import (
	"fmt"
	"time"

	"github.com/ammar0144/persist4go/pkg/mapping"
)

// Customer owns a lazily loaded set of orders. Removing a customer removes
// its orders.
type Customer struct {
	ID          int64              `orm:"id;generated:identity"`
	LastName    string             `orm:"column:LAST_NAME;size:50;notNull"`
	Email       string             `orm:"size:100"`
	Age         int                `orm:"column:AGE"`
	CreatedTime time.Time          `orm:"temporal:timestamp"`
	Birth       time.Time          `orm:"temporal:date"`
	Orders      mapping.Set[Order] `orm:"oneToMany;mappedBy:customer;cascade:remove"`
}

func (Customer) TableName() string { return "JPA_CUSTOMERS" }

func (Customer) Cacheable() bool { return true }

func (Customer) NamedQueries() map[string]string {
	return map[string]string{
		"customerByID": "FROM Customer c WHERE c.id = ?",
	}
}

// Info is a derived, unmapped description
func (c *Customer) Info() string {
	return fmt.Sprintf("lastName: %s, email: %s", c.LastName, c.Email)
}

func (c *Customer) String() string {
	return fmt.Sprintf("Customer [id=%d, lastName=%s, email=%s, age=%d, createdTime=%s, birth=%s]",
		c.ID, c.LastName, c.Email, c.Age, c.CreatedTime.Format(time.DateTime), c.Birth.Format(time.DateOnly))
}

// Order references its customer through CUSTOMER_ID
type Order struct {
	ID       int64                 `orm:"id;generated:identity"`
	Name     string                `orm:"column:ORDER_NAME;size:50"`
	Customer mapping.Ref[Customer] `orm:"manyToOne;joinColumn:CUSTOMER_ID;fetch:lazy"`
}

func (Order) TableName() string { return "JPA_ORDERS" }

func (o *Order) String() string {
	return fmt.Sprintf("Order [id=%d, name=%s]", o.ID, o.Name)
}

// Department owns the one-to-one link to its manager
type Department struct {
	ID       int64                `orm:"id;generated:identity"`
	DeptName string               `orm:"column:DEPT_NAME;size:50"`
	Mgr      mapping.Ref[Manager] `orm:"oneToOne;joinColumn:MGR_ID;unique;fetch:lazy"`
}

func (Department) TableName() string { return "JPA_DEPARTMENTS" }

func (d *Department) String() string {
	return fmt.Sprintf("Department [id=%d, deptName=%s]", d.ID, d.DeptName)
}

// Manager is the inverse side of the department link. Its ids come from the
// generator table.
type Manager struct {
	ID      int64                   `orm:"id;generated:table;generator:MANAGER_ID"`
	MgrName string                  `orm:"column:MGR_NAME;size:50"`
	Dept    mapping.Ref[Department] `orm:"oneToOne;mappedBy:mgr"`
}

func (Manager) TableName() string { return "JPA_MANAGERS" }

func (m *Manager) String() string {
	return fmt.Sprintf("Manager [id=%d, mgrName=%s]", m.ID, m.MgrName)
}

// Item owns the many-to-many link table to categories
type Item struct {
	ID         int64                 `orm:"id;generated:identity"`
	ItemName   string                `orm:"column:ITEM_NAME;size:50"`
	Categories mapping.Set[Category] `orm:"manyToMany;joinTable:JPA_ITEM_CATEGORIES;joinColumn:ITEM_ID;inverseJoinColumn:CATEGORY_ID"`
}

func (Item) TableName() string { return "JPA_ITEMS" }

func (i *Item) String() string {
	return fmt.Sprintf("Item [id=%d, itemName=%s]", i.ID, i.ItemName)
}

// Category is keyed by a generated uuid
type Category struct {
	ID           string            `orm:"id;generated:uuid;size:36"`
	CategoryName string            `orm:"column:CATEGORY_NAME;size:50"`
	Items        mapping.Set[Item] `orm:"manyToMany;mappedBy:categories"`
}

func (Category) TableName() string { return "JPA_CATEGORIES" }

func (c *Category) String() string {
	return fmt.Sprintf("Category [id=%s, categoryName=%s]", c.ID, c.CategoryName)
}

// All returns one instance of every entity type, for registration
func All() []any {
	return []any{&Customer{}, &Order{}, &Manager{}, &Department{}, &Category{}, &Item{}}
}

// NewRegistry registers every demonstration entity
func NewRegistry() (*mapping.Registry, error) {
	return mapping.NewRegistry(All()...)
}
