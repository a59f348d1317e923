package supervisor

import (
	"testing"

	"github.com/pgwire/pgwire/internal/wire"
)

func TestAllocAssignsDistinctIDs(t *testing.T) {
	s := New(1, 10)
	seen := make(map[wire.ConnID]bool)
	for i := 0; i < 10; i++ {
		id, _, err := s.Alloc()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("id %d allocated twice", id)
		}
		seen[id] = true
	}
	if _, _, err := s.Alloc(); err != ErrExhausted {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestFreeAllowsReuse(t *testing.T) {
	s := New(1, 1)
	id, _, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Alloc(); err != ErrExhausted {
		t.Fatalf("expected exhaustion before free, got %v", err)
	}
	s.Free(id)
	reused, _, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if reused != id {
		t.Fatalf("reused id = %d, want %d", reused, id)
	}
}

func TestVerify(t *testing.T) {
	s := New(1, 10)
	id, secret, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if !s.Verify(id, secret) {
		t.Fatal("Verify should succeed for the allocated (id, secret) pair")
	}
	if s.Verify(id, secret+1) {
		t.Fatal("Verify should fail for a mismatched secret")
	}
	if s.Verify(id+100, secret) {
		t.Fatal("Verify should fail for an unknown connection id")
	}
}

func TestVerifyFailsAfterFree(t *testing.T) {
	s := New(1, 10)
	id, secret, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	s.Free(id)
	if s.Verify(id, secret) {
		t.Fatal("Verify should fail once the connection id has been freed")
	}
}

func TestAllocSecretKeysAreNotTriviallyEqual(t *testing.T) {
	s := New(1, 100)
	_, k1, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	_, k2, err := s.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if k1 == k2 {
		t.Fatal("two successive allocations produced identical secret keys; RNG may not be wired correctly")
	}
}

func TestFreeUnknownIDIsNoOp(t *testing.T) {
	s := New(1, 10)
	s.Free(999) // must not panic
}
