package pool

import "testing"

type widget struct {
	val int
}

func TestAllocateReleaseStableAddress(t *testing.T) {
	p := New[widget](4)

	h1, w1 := p.Allocate()
	w1.val = 42

	if got := p.Get(h1).val; got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if p.Live() != 1 {
		t.Fatalf("expected live 1, got %d", p.Live())
	}

	p.Release(h1)
	if p.Live() != 0 {
		t.Fatalf("expected live 0, got %d", p.Live())
	}
}

func TestAllocateReusesReleasedSlots(t *testing.T) {
	p := New[widget](2)

	h1, _ := p.Allocate()
	h2, _ := p.Allocate()
	p.Release(h1)

	h3, w3 := p.Allocate()
	w3.val = 7

	if h3 != h1 {
		t.Fatalf("expected the released slot %d to be reused, got %d", h1, h3)
	}
	if p.Get(h2).val != 0 {
		t.Fatalf("unrelated slot must be untouched")
	}
}

func TestExhaustionIsFatal(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on pool exhaustion")
		}
	}()

	p := New[widget](1)
	p.Allocate()
	p.Allocate() // capacity exceeded
}

func TestDoubleReleaseIsFatal(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double release")
		}
	}()

	p := New[widget](1)
	h, _ := p.Allocate()
	p.Release(h)
	p.Release(h)
}
