// FILENAME: registry/registry_test.go
package registry_test

import (
	"sync"
	"testing"

	"github.com/xkilldash9x/lockstep/registry"
)

func TestRegistry_AttachDetach(t *testing.T) {
	t.Parallel()

	r := registry.New[string, int]()

	// 1. Empty state
	if r.Contains("a") || r.Len() != 0 {
		t.Fatal("fresh registry not empty")
	}
	if r.Detach("a") {
		t.Error("Detach on missing key reported true")
	}

	// 2. Attach & lookup
	r.Attach("a", 1)
	r.Attach("b", 2)
	if !r.Contains("a") || !r.Contains("b") || r.Len() != 2 {
		t.Fatalf("after attach: len=%d", r.Len())
	}
	if v, ok := r.Get("b"); !ok || v != 2 {
		t.Errorf("Get(b): %d, %v", v, ok)
	}

	// 3. Replacement
	r.Attach("a", 10)
	if v, _ := r.Get("a"); v != 10 {
		t.Errorf("Attach did not replace: %d", v)
	}
	if r.Len() != 2 {
		t.Errorf("replacement changed len: %d", r.Len())
	}

	// 4. Detach
	if !r.Detach("a") {
		t.Error("Detach on present key reported false")
	}
	if r.Contains("a") || r.Len() != 1 {
		t.Error("key survived Detach")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()

	r := registry.New[int, int]()
	const workers = 16

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r.Attach(w, w*w)
			if !r.Contains(w) {
				t.Errorf("worker %d: own key missing", w)
			}
			r.Len() // exercise readers against writers
		}(w)
	}
	wg.Wait()

	if r.Len() != workers {
		t.Fatalf("len=%d, want %d", r.Len(), workers)
	}
	for w := 0; w < workers; w++ {
		if v, ok := r.Get(w); !ok || v != w*w {
			t.Errorf("Get(%d): %d, %v", w, v, ok)
		}
	}
}
