package arena

import "testing"

func TestRefRecyclesOnLastRelease(t *testing.T) {
	recycled := false
	r := New(42, func(int) { recycled = true })

	v, ok := r.Acquire()
	if !ok || v != 42 {
		t.Fatalf("Acquire() = %v, %v", v, ok)
	}

	r.Release() // the reader's reference
	if recycled {
		t.Fatal("recycled too early: creator's reference is still outstanding")
	}

	r.Release() // the creator's reference
	if !recycled {
		t.Fatal("value was never recycled after the last release")
	}
}

func TestAcquireAfterRecycleFails(t *testing.T) {
	r := New("x", nil)
	r.Release()
	if _, ok := r.Acquire(); ok {
		t.Fatal("Acquire must fail once the value has been recycled")
	}
}
