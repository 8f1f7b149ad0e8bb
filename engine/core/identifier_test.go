package core

import "testing"

func TestIdentifierLifecycle(t *testing.T) {
	owner := &listener{name: "owner"}
	id := IdentifierAquireNewID(owner)

	got, ok := IdentifierOwner(id)
	if !ok || got != owner {
		t.Fatalf("IdentifierOwner(%s) = %v, %v", id, got, ok)
	}
	if err := IdentifierReleaseID(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := IdentifierOwner(id); ok {
		t.Error("id still registered after release")
	}
	if err := IdentifierReleaseID(id); err == nil {
		t.Error("double release should fail")
	}
}
