package mapping

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestAssignConversions(t *testing.T) {
	var s struct {
		I   int
		I32 int32
		U   uint16
		F   float64
		B   bool
		S   string
		T   time.Time
		PT  *time.Time
		PS  *string
		Raw []byte
	}
	v := reflect.ValueOf(&s).Elem()

	cases := []struct {
		field string
		raw   any
	}{
		{"I", int64(42)},
		{"I32", []byte("7")},
		{"U", int64(9)},
		{"F", int64(3)},
		{"B", int64(1)},
		{"S", []byte("hello")},
		{"T", "2024-03-01 10:20:30"},
		{"PT", time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"PS", "x"},
		{"Raw", "abc"},
	}
	for _, c := range cases {
		if err := Assign(v.FieldByName(c.field), c.raw); err != nil {
			t.Fatalf("Assign %s <- %v: %v", c.field, c.raw, err)
		}
	}

	if s.I != 42 || s.I32 != 7 || s.U != 9 || s.F != 3 || !s.B || s.S != "hello" {
		t.Errorf("scalars = %+v", s)
	}
	if s.T.Year() != 2024 || s.T.Hour() != 10 {
		t.Errorf("time = %v", s.T)
	}
	if s.PT == nil || s.PT.Day() != 2 || s.PS == nil || *s.PS != "x" || string(s.Raw) != "abc" {
		t.Errorf("pointers = %v %v %q", s.PT, s.PS, s.Raw)
	}

	if err := Assign(v.FieldByName("PT"), nil); err != nil || s.PT != nil {
		t.Errorf("nil should clear pointer, got %v %v", s.PT, err)
	}
	if err := Assign(v.FieldByName("I"), "nope"); !errors.Is(err, ErrConversion) {
		t.Errorf("expected ErrConversion, got %v", err)
	}
}

func TestNormalizeID(t *testing.T) {
	n := int32(5)
	for _, in := range []any{5, int8(5), uint(5), int64(5), &n} {
		if got := NormalizeID(in); got != int64(5) {
			t.Errorf("NormalizeID(%T) = %v (%T)", in, got, got)
		}
	}
	if NormalizeID([]byte("k")) != "k" {
		t.Error("byte ids normalize to strings")
	}
	var nilPtr *int
	if NormalizeID(nilPtr) != nil {
		t.Error("nil pointer id normalizes to nil")
	}
}

func TestDatabaseValue(t *testing.T) {
	s := "v"
	var nilStr *string
	if DatabaseValue(&s) != "v" || DatabaseValue(nilStr) != nil || DatabaseValue(3) != 3 {
		t.Error("DatabaseValue dereferencing failed")
	}
}
