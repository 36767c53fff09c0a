package cmap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input, want int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{8, 8},
		{64, 64},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			if got := len(NewWithShards[string, int](tt.input).shards); got != tt.want {
				t.Errorf("shards = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 3)

	if v, ok := m.Get("a"); !ok || v != 3 {
		t.Errorf("Get(a) = %d, %v; want 3, true", v, ok)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Error("Get(a) after Delete found a value")
	}
}

func TestGetOrCreate(t *testing.T) {
	m := New[string, *int]()
	calls := 0
	create := func() *int { calls++; v := 7; return &v }

	v1, existed := m.GetOrCreate("k", create)
	if existed || *v1 != 7 {
		t.Fatalf("first GetOrCreate = %v, %v", *v1, existed)
	}
	v2, existed := m.GetOrCreate("k", create)
	if !existed || v1 != v2 || calls != 1 {
		t.Errorf("second GetOrCreate existed=%v same=%v calls=%d", existed, v1 == v2, calls)
	}
}

func TestGetOrCreate_Concurrent(t *testing.T) {
	m := New[int, int]()
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 100; k++ {
				m.GetOrCreate(k, func() int { created.Add(1); return k })
			}
		}()
	}
	wg.Wait()
	if created.Load() != 100 || m.Len() != 100 {
		t.Errorf("created = %d, Len = %d; want 100, 100", created.Load(), m.Len())
	}
}

func TestDeleteFunc(t *testing.T) {
	m := NewWithShards[int, int](4)
	for i := 0; i < 20; i++ {
		m.Set(i, i)
	}
	n := m.DeleteFunc(func(_, v int) bool { return v%2 == 0 })
	if n != 10 || m.Len() != 10 {
		t.Errorf("DeleteFunc removed %d, Len = %d; want 10, 10", n, m.Len())
	}
	m.Range(func(k, _ int) bool {
		if k%2 == 0 {
			t.Errorf("even key %d survived", k)
		}
		return true
	})
}

func TestRange_Stop(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 50; i++ {
		m.Set(i, i)
	}
	seen := 0
	m.Range(func(int, int) bool {
		seen++
		return seen < 5
	})
	if seen != 5 {
		t.Errorf("Range visited %d, want 5", seen)
	}
}
