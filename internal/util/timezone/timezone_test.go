package timezone

import (
	"sync"
	"testing"
)

func TestLocation_ConcurrentFirstUse(t *testing.T) {
	t.Setenv("TZ", "UTC")

	var wg sync.WaitGroup
	locations := make([]string, 8)
	for i := range locations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			locations[i] = Location().String()
		}(i)
	}
	wg.Wait()

	for i, name := range locations {
		if name != locations[0] {
			t.Fatalf("goroutine %d saw location %q, others saw %q", i, name, locations[0])
		}
		if name == "" {
			t.Fatalf("goroutine %d saw a nil location", i)
		}
	}
}

func TestNow_UsesConfiguredLocation(t *testing.T) {
	if got := Now().Location().String(); got != Location().String() {
		t.Errorf("Now() location = %q, want %q", got, Location().String())
	}
}
