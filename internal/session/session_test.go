package session

import (
	"sync"
	"testing"
	"time"
)

func TestNewID_Unique(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if ids[id] {
			t.Errorf("Duplicate connection ID: %s", id)
		}
		ids[id] = true
		if len(id) != 36 {
			t.Errorf("ID length = %d, want 36", len(id))
		}
	}
}

func TestRegistry_AddRemove(t *testing.T) {
	reg := NewRegistry()

	remove := reg.Add(Session{ID: "conn1", RemoteAddr: "127.0.0.1:5000", Subprotocol: "tccs"})
	if reg.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reg.Count())
	}
	s, ok := reg.Get("conn1")
	if !ok {
		t.Fatal("session not found")
	}
	if s.Subprotocol != "tccs" {
		t.Errorf("Subprotocol = %s, want tccs", s.Subprotocol)
	}
	if s.ConnectedAt.IsZero() {
		t.Error("ConnectedAt should be set on Add")
	}

	remove()
	remove()
	if reg.Count() != 0 {
		t.Errorf("Count = %d after remove, want 0", reg.Count())
	}
	if _, ok := reg.Get("conn1"); ok {
		t.Error("session still present after remove")
	}
}

func TestRegistry_ListOrder(t *testing.T) {
	reg := NewRegistry()
	base := time.Now()
	reg.Add(Session{ID: "c", ConnectedAt: base.Add(2 * time.Second)})
	reg.Add(Session{ID: "a", ConnectedAt: base})
	reg.Add(Session{ID: "b", ConnectedAt: base.Add(time.Second)})

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List length = %d, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Errorf("List[%d] = %s, want %s", i, list[i].ID, want)
		}
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remove := reg.Add(Session{ID: NewID()})
			_ = reg.Count()
			_ = reg.List()
			remove()
		}()
	}
	wg.Wait()
	if reg.Count() != 0 {
		t.Errorf("Count = %d, want 0", reg.Count())
	}
}
