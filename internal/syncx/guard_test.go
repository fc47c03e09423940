package syncx

import (
	"sync"
	"testing"
)

func TestReadAndWrite(t *testing.T) {
	g := NewGuard(map[string]int{"a": 1})

	g.Write(func(m *map[string]int) {
		(*m)["b"] = 2
	})

	got := g.Read(func(m map[string]int) any {
		return m["a"] + m["b"]
	}).(int)
	if got != 3 {
		t.Errorf("sum = %d, want 3", got)
	}
}

func TestUpdateReturnsResult(t *testing.T) {
	g := NewGuard([]string{})

	result := g.Update(func(s *[]string) any {
		*s = append(*s, "x")
		return len(*s)
	})
	if result.(int) != 1 {
		t.Errorf("result = %v, want 1", result)
	}
}

func TestUpdateSerializesMutation(t *testing.T) {
	g := NewGuard(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Update(func(n *int) any {
				*n++
				return nil
			})
		}()
	}
	wg.Wait()

	got := g.Read(func(n int) any { return n }).(int)
	if got != 50 {
		t.Errorf("count = %d, want 50", got)
	}
}
