package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h, err := NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcryptHasher: %v", err)
	}
	hash, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Verify(hash, "s3cret"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := h.Verify(hash, "S3cret"); err == nil {
		t.Fatal("expected mismatch")
	}
	if err := h.Verify("", "s3cret"); err == nil {
		t.Fatal("expected error for empty hash")
	}
	if _, err := h.Hash(""); !errors.Is(err, ErrPasswordEmpty) {
		t.Fatalf("expected ErrPasswordEmpty, got %v", err)
	}
}

func TestBcryptCostRange(t *testing.T) {
	if _, err := NewBcryptHasher(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected error for cost above max")
	}
	h, err := NewBcryptHasher(0)
	if err != nil || h.cost != bcrypt.DefaultCost {
		t.Fatalf("default cost: %v %+v", err, h)
	}
}
