package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterLookup(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", "ann")
	name, ok := r.Lookup("c1")
	if !ok || name != "ann" {
		t.Errorf("Expected ann, got %q (ok=%v)", name, ok)
	}

	// Re-registering replaces the name rather than adding an entry
	r.Register("c1", "annie")
	name, _ = r.Lookup("c1")
	if name != "annie" {
		t.Errorf("Expected annie, got %q", name)
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Len())
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", "ann")

	name, ok := r.Unregister("c1")
	if !ok || name != "ann" {
		t.Errorf("Expected to remove ann, got %q (ok=%v)", name, ok)
	}
	if _, ok := r.Lookup("c1"); ok {
		t.Error("Lookup after unregister should be unknown")
	}

	if _, ok := r.Unregister("never-seen"); ok {
		t.Error("Unregistering an unknown id should report nothing removed")
	}
}

func TestRegistryConcurrency(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(id, "user")
			r.Lookup(id)
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Expected 50 entries, got %d", r.Len())
	}
}
