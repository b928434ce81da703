package state

import (
	"testing"
)

func TestSetNotifiesWithNewAndOld(t *testing.T) {
	m := New()
	var gotNew, gotOld any
	m.Subscribe("count", func(n, o any) {
		gotNew, gotOld = n, o
	})

	m.Set("count", 1, false)
	if gotNew != 1 || gotOld != nil {
		t.Fatalf("expected (1, nil), got (%v, %v)", gotNew, gotOld)
	}

	m.Set("count", 2, false)
	if gotNew != 2 || gotOld != 1 {
		t.Fatalf("expected (2, 1), got (%v, %v)", gotNew, gotOld)
	}
}

func TestSetIdenticalValueIsNoOp(t *testing.T) {
	m := New()
	calls := 0
	m.Subscribe("k", func(_, _ any) { calls++ })

	m.Set("k", "v", false)
	m.Set("k", "v", false)

	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
	if len(m.History()) != 1 {
		t.Fatalf("identical set must not append history, got %d entries", len(m.History()))
	}
}

func TestSetSilentRecordsButDoesNotNotify(t *testing.T) {
	m := New()
	calls := 0
	m.Subscribe("k", func(_, _ any) { calls++ })

	m.Set("k", 1, true)
	if calls != 0 {
		t.Fatal("silent set must not notify")
	}
	if m.Get("k") != 1 {
		t.Fatal("silent set must still store the value")
	}
	if len(m.History()) != 1 {
		t.Fatal("silent set must still record history")
	}
}

func TestUnsubscribeRemovesOnlyThatListener(t *testing.T) {
	m := New()
	var a, b int
	unsubA := m.Subscribe("k", func(_, _ any) { a++ })
	m.Subscribe("k", func(_, _ any) { b++ })

	m.Set("k", 1, false)
	unsubA()
	m.Set("k", 2, false)

	if a != 1 {
		t.Fatalf("unsubscribed listener ran %d times, want 1", a)
	}
	if b != 2 {
		t.Fatalf("remaining listener ran %d times, want 2", b)
	}
	// Double unsubscribe is harmless.
	unsubA()
}

func TestListenerPanicIsolated(t *testing.T) {
	m := New()
	ran := false
	m.Subscribe("k", func(_, _ any) { panic("boom") })
	m.Subscribe("k", func(_, _ any) { ran = true })

	m.Set("k", 1, false)
	if !ran {
		t.Fatal("expected second listener to run despite first panicking")
	}
}

func TestComputedShadowsRawValue(t *testing.T) {
	m := New()
	m.Set("tasks", []any{"a", "b", "c"}, true)
	m.Set("taskCount", -1, true)
	m.DefineComputed("taskCount", func(raw map[string]any) any {
		tasks, _ := raw["tasks"].([]any)
		return len(tasks)
	})

	if got := m.Get("taskCount"); got != 3 {
		t.Fatalf("expected computed 3 to shadow raw value, got %v", got)
	}
	if !m.Has("taskCount") {
		t.Fatal("expected Has to see the computed property")
	}
	if all := m.GetAll(); all["taskCount"] != 3 {
		t.Fatalf("expected GetAll to apply computed, got %v", all["taskCount"])
	}
}

func TestHistoryRingCapped(t *testing.T) {
	m := New()
	for i := 0; i < 25; i++ {
		m.Set("k", i, true)
	}
	h := m.History()
	if len(h) != historyLimit {
		t.Fatalf("expected history capped at %d, got %d", historyLimit, len(h))
	}
	if h[len(h)-1].NewValue != 24 {
		t.Fatalf("expected newest change last, got %v", h[len(h)-1].NewValue)
	}
	if h[0].NewValue != 15 {
		t.Fatalf("expected oldest surviving change 15, got %v", h[0].NewValue)
	}
}

func TestListenerMayReenterSet(t *testing.T) {
	m := New()
	m.Subscribe("a", func(n, _ any) {
		m.Set("b", n, false)
	})
	got := 0
	m.Subscribe("b", func(n, _ any) { got = n.(int) })

	m.Set("a", 7, false)
	if got != 7 {
		t.Fatalf("expected cascaded set to reach b's listener, got %d", got)
	}
}

func TestWatchMultiple(t *testing.T) {
	m := New()
	calls := 0
	unsub := m.WatchMultiple([]string{"x", "y"}, func(_, _ any) { calls++ })

	m.Set("x", 1, false)
	m.Set("y", 2, false)
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}

	unsub()
	m.Set("x", 3, false)
	if calls != 2 {
		t.Fatalf("expected no calls after unsubscribe, got %d", calls)
	}
}

func TestDeleteNotifiesWithNilNew(t *testing.T) {
	m := New()
	m.Set("k", 1, true)
	var gotNew, gotOld any
	notified := false
	m.Subscribe("k", func(n, o any) {
		notified = true
		gotNew, gotOld = n, o
	})

	m.Delete("k")
	if !notified {
		t.Fatal("expected delete to notify")
	}
	if gotNew != nil || gotOld != 1 {
		t.Fatalf("expected (nil, 1), got (%v, %v)", gotNew, gotOld)
	}
	if m.Has("k") {
		t.Fatal("expected key gone after delete")
	}
}

func TestResetKeepsListeners(t *testing.T) {
	m := New()
	calls := 0
	m.Subscribe("k", func(_, _ any) { calls++ })
	m.Set("k", 1, true)

	m.Reset()
	if m.Has("k") {
		t.Fatal("expected values cleared by reset")
	}
	if len(m.History()) != 0 {
		t.Fatal("expected history cleared by reset")
	}

	m.Set("k", 2, false)
	if calls != 1 {
		t.Fatal("expected listeners to survive reset")
	}
}

func TestSliceRebuildStillNotifies(t *testing.T) {
	m := New()
	calls := 0
	m.Subscribe("tasks", func(_, _ any) { calls++ })

	m.Set("tasks", []string{"a"}, false)
	m.Set("tasks", []string{"a"}, false)

	if calls != 2 {
		t.Fatalf("distinct slices must notify even when equal, got %d calls", calls)
	}
}
