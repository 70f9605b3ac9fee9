package catalog

import (
	"errors"
	"testing"
)

func TestNewCleansActivities(t *testing.T) {
	c, err := New([]string{" date-night ", "", "date-night", "sunset-walk"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Activities()
	if len(got) != 2 || got[0] != "date-night" || got[1] != "sunset-walk" {
		t.Fatalf("unexpected activities: %v", got)
	}

	if _, err := New([]string{" ", ""}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestProduce(t *testing.T) {
	c, err := New([]string{"board-games", "cook-together"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 20; i++ {
		r, err := c.Produce()
		if err != nil {
			t.Fatalf("Produce: %v", err)
		}
		if r.Activity != "board-games" && r.Activity != "cook-together" {
			t.Fatalf("unexpected activity %q", r.Activity)
		}
		if r.NavigateTarget != NavigateTarget(r.Activity) {
			t.Fatalf("unexpected navigate target %q", r.NavigateTarget)
		}
		if r.ProducedAt.IsZero() {
			t.Fatal("ProducedAt not set")
		}
	}
}
