package db

import (
	"reflect"
	"testing"
)

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Builder
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "all columns",
			build:   func() *Builder { return NewBuilder("JPA_CUSTOMERS") },
			wantSQL: "SELECT * FROM JPA_CUSTOMERS",
		},
		{
			name: "alias, where and order",
			build: func() *Builder {
				return NewBuilder("JPA_CUSTOMERS c").
					Select("c.ID", "c.LAST_NAME").
					Where("c.AGE", GreaterThan, 18).
					OrderBy("c.LAST_NAME", true)
			},
			wantSQL:  "SELECT c.ID, c.LAST_NAME FROM JPA_CUSTOMERS c WHERE c.AGE > ? ORDER BY c.LAST_NAME DESC",
			wantArgs: []interface{}{18},
		},
		{
			name: "in list expands placeholders",
			build: func() *Builder {
				return NewBuilder("JPA_ORDERS").Where("ID", In, []int64{1, 2, 3})
			},
			wantSQL:  "SELECT * FROM JPA_ORDERS WHERE ID IN (?, ?, ?)",
			wantArgs: []interface{}{int64(1), int64(2), int64(3)},
		},
		{
			name: "empty in list never matches",
			build: func() *Builder {
				return NewBuilder("JPA_ORDERS").Where("ID", In, []int64{})
			},
			wantSQL: "SELECT * FROM JPA_ORDERS WHERE 1 = 0",
		},
		{
			name: "between",
			build: func() *Builder {
				return NewBuilder("JPA_CUSTOMERS").Where("AGE", Between, []int{10, 20})
			},
			wantSQL:  "SELECT * FROM JPA_CUSTOMERS WHERE AGE BETWEEN ? AND ?",
			wantArgs: []interface{}{10, 20},
		},
		{
			name: "raw fragments and grouping",
			build: func() *Builder {
				return NewBuilder("JPA_ORDERS o").
					Select("o.CUSTOMER_ID", "COUNT(o.ID)").
					WhereRaw("o.ORDER_NAME LIKE ?", "O-%").
					GroupBy("o.CUSTOMER_ID").
					HavingRaw("COUNT(o.ID) >= ?", 2)
			},
			wantSQL:  "SELECT o.CUSTOMER_ID, COUNT(o.ID) FROM JPA_ORDERS o WHERE o.ORDER_NAME LIKE ? GROUP BY o.CUSTOMER_ID HAVING COUNT(o.ID) >= ?",
			wantArgs: []interface{}{"O-%", 2},
		},
		{
			name: "offset without limit",
			build: func() *Builder {
				return NewBuilder("T").Offset(5)
			},
			wantSQL: "SELECT * FROM T LIMIT 9223372036854775807 OFFSET 5",
		},
		{
			name: "limit and offset",
			build: func() *Builder {
				return NewBuilder("T").Limit(10).Offset(20)
			},
			wantSQL: "SELECT * FROM T LIMIT 10 OFFSET 20",
		},
		{
			name: "distinct with join",
			build: func() *Builder {
				return NewBuilder("JPA_CUSTOMERS c").Distinct().Select("c.ID").
					LeftJoin("JPA_ORDERS o", "o.CUSTOMER_ID = c.ID")
			},
			wantSQL: "SELECT DISTINCT c.ID FROM JPA_CUSTOMERS c LEFT JOIN JPA_ORDERS o ON o.CUSTOMER_ID = c.ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.build().BuildSelect()
			if sql != tt.wantSQL {
				t.Errorf("sql = %q, want %q", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) || (len(args) > 0 && !reflect.DeepEqual(args, tt.wantArgs)) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestBuildInsertUpdateDelete(t *testing.T) {
	b := NewBuilder("JPA_ORDERS")

	sql, n := b.BuildInsert([]string{"ORDER_NAME", "CUSTOMER_ID"})
	if sql != "INSERT INTO JPA_ORDERS (ORDER_NAME, CUSTOMER_ID) VALUES (?, ?)" || n != 2 {
		t.Errorf("insert = %q, %d", sql, n)
	}

	sql, n = b.BuildUpdate([]string{"ORDER_NAME"}, "ID")
	if sql != "UPDATE JPA_ORDERS SET ORDER_NAME = ? WHERE ID = ?" || n != 2 {
		t.Errorf("update = %q, %d", sql, n)
	}

	if got := b.BuildDelete("ID"); got != "DELETE FROM JPA_ORDERS WHERE ID = ?" {
		t.Errorf("delete = %q", got)
	}
}

func TestBuildUpdateWhere(t *testing.T) {
	sql, args, err := NewBuilder("JPA_CUSTOMERS").
		Set("AGE", "AGE + ?", 1).
		Set("EMAIL", "?", "x@y.z").
		WhereRaw("ID = ?", int64(7)).
		BuildUpdateWhere()
	if err != nil {
		t.Fatalf("BuildUpdateWhere: %v", err)
	}
	want := "UPDATE JPA_CUSTOMERS SET AGE = AGE + ?, EMAIL = ? WHERE ID = ?"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if !reflect.DeepEqual(args, []interface{}{1, "x@y.z", int64(7)}) {
		t.Errorf("args = %v", args)
	}

	if _, _, err := NewBuilder("T").BuildUpdateWhere(); err == nil {
		t.Error("expected error for update without assignments")
	}
}

func TestBuildDeleteWhere(t *testing.T) {
	sql, args := NewBuilder("JPA_ORDERS").BuildDeleteWhere()
	if sql != "DELETE FROM JPA_ORDERS" || args != nil {
		t.Errorf("got %q %v", sql, args)
	}

	sql, args = NewBuilder("JPA_ORDERS").Where("CUSTOMER_ID", Equal, 3).BuildDeleteWhere()
	if sql != "DELETE FROM JPA_ORDERS WHERE CUSTOMER_ID = ?" || len(args) != 1 {
		t.Errorf("got %q %v", sql, args)
	}
}
