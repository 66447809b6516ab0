package mapping

import (
	"errors"
	"testing"
)

func TestRefLazyLoad(t *testing.T) {
	calls := 0
	target := &Note{ID: 7, Text: "n"}

	var ref Ref[Note]
	ref.Bind(int64(7), func() (any, error) {
		calls++
		return target, nil
	})

	if ref.Loaded() {
		t.Fatal("bound ref should not be loaded")
	}
	if _, loaded := ref.Peek(); loaded {
		t.Fatal("Peek must not load")
	}
	if ref.ForeignKey() != int64(7) {
		t.Errorf("fk = %v", ref.ForeignKey())
	}

	got, err := ref.Get()
	if err != nil || got != target {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := ref.Get(); err != nil || calls != 1 {
		t.Errorf("loader called %d times", calls)
	}
}

func TestRefBindNilAndFailure(t *testing.T) {
	var ref Ref[Note]
	ref.Bind(nil, nil)
	if !ref.IsNil() {
		t.Error("binding a nil key should leave an empty ref")
	}

	ref.Bind(int64(1), func() (any, error) { return nil, ErrLazyInitialization })
	if _, err := ref.Get(); !errors.Is(err, ErrLazyInitialization) {
		t.Errorf("Get error = %v", err)
	}
	if ref.Loaded() {
		t.Error("failed load must keep the loader")
	}
}

func TestSetQueuesChangesBeforeLoad(t *testing.T) {
	a, b, c := &Note{ID: 1}, &Note{ID: 2}, &Note{ID: 3}

	var set Set[Note]
	set.BindLoader(func() ([]any, error) { return []any{a, b}, nil })

	set.Add(c)
	set.Remove(a)
	if set.Loaded() {
		t.Fatal("queued changes must not load the set")
	}

	items, err := set.Items()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0] != b || items[1] != c {
		t.Errorf("items = %v", items)
	}
	if ok, _ := set.Contains(a); ok {
		t.Error("removed element came back after load")
	}
}

func TestSetIdentitySemantics(t *testing.T) {
	a := &Note{ID: 1}
	set := SetOf[Note](a, a, nil)
	if n, _ := set.Len(); n != 1 {
		t.Errorf("len = %d", n)
	}

	copyOfA := &Note{ID: 1}
	set.Add(copyOfA)
	if n, _ := set.Len(); n != 2 {
		t.Errorf("distinct pointers are distinct elements, len = %d", n)
	}

	set.Replace([]any{copyOfA})
	if elems := set.Elements(); len(elems) != 1 || elems[0] != any(copyOfA) {
		t.Errorf("elements after replace = %v", elems)
	}
}
