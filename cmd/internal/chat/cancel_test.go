package chat

import "testing"

func TestRegistryCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	f := r.Reset("c1")

	r.Cancel("c1")
	r.Cancel("c1")

	if !f.Cancelled() {
		t.Fatal("flag not cancelled")
	}
	if !r.IsCancelled("c1") {
		t.Fatal("registry does not report cancelled")
	}
}

func TestRegistryCancelWithoutStreamIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Cancel("missing")

	if r.IsCancelled("missing") {
		t.Fatal("absent entry reported cancelled")
	}
}

func TestRegistryClearIsIdempotent(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Reset("c1")
	r.Clear("c1")
	r.Clear("c1")

	if r.IsCancelled("c1") {
		t.Fatal("cleared entry reported cancelled")
	}
}

func TestRegistryResetReplacesHandle(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	old := r.Reset("c1")
	r.Cancel("c1")

	fresh := r.Reset("c1")

	if !old.Cancelled() {
		t.Fatal("old handle lost its cancellation")
	}
	if fresh.Cancelled() {
		t.Fatal("fresh handle inherited cancellation")
	}
	if r.IsCancelled("c1") {
		t.Fatal("registry reports stale cancellation after reset")
	}
}
