package mip

import (
	"encoding/json"
	"errors"
	"testing"
)

func levelString(v *int) string {
	if v == nil {
		return "nil"
	}
	return string(rune('0' + *v))
}

func TestDefaults(t *testing.T) {
	c, err := New(nil, nil, Int(5))
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if lvl, err := c.EffectiveMinLevel(); err != nil || lvl != 0 {
		t.Errorf("expected default min level 0, got %d (%v)\n", lvl, err)
	}
	if lvl, err := c.EffectiveMaxLevel(); err != nil || lvl != 4 {
		t.Errorf("expected default max level 4, got %d (%v)\n", lvl, err)
	}
	if n, ok := c.NumberOfLevels(); !ok || n != 5 {
		t.Errorf("expected 5 levels, got %d %t\n", n, ok)
	}
}

func TestSnapping(t *testing.T) {
	c, err := New(nil, nil, Int(5))
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	var notified int
	c.OnChange(func() { notified++ })

	if err := c.SetMinLevel(Int(3)); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if notified != 1 {
		t.Fatalf("expected 1 notification after setting min, got %d\n", notified)
	}

	// Lowering max below min snaps min down to the new max with a single notification.
	// The bound just written wins; max does not stay at the old min of 3.
	notified = 0
	if err := c.SetMaxLevel(Int(1)); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if notified != 1 {
		t.Errorf("expected exactly 1 notification, got %d\n", notified)
	}
	if *c.MinLevel() != 1 || *c.MaxLevel() != 1 {
		t.Errorf("expected min=max=1, got min %s max %s\n", levelString(c.MinLevel()), levelString(c.MaxLevel()))
	}

	// Raising min above max snaps max up.
	notified = 0
	if err := c.SetMinLevel(Int(4)); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if notified != 1 {
		t.Errorf("expected exactly 1 notification, got %d\n", notified)
	}
	if *c.MinLevel() != 4 || *c.MaxLevel() != 4 {
		t.Errorf("expected min=max=4, got min %s max %s\n", levelString(c.MinLevel()), levelString(c.MaxLevel()))
	}

	// Writing the same value is not a change.
	notified = 0
	if err := c.SetMinLevel(Int(4)); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if notified != 0 {
		t.Errorf("expected no notification for no-op write, got %d\n", notified)
	}

	// Clearing a bound is a change.
	if err := c.SetMaxLevel(nil); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if notified != 1 || c.MaxLevel() != nil {
		t.Errorf("expected cleared max with 1 notification, got %s and %d\n", levelString(c.MaxLevel()), notified)
	}
}

func TestInvariantAfterMutations(t *testing.T) {
	c, err := New(nil, nil, Int(8))
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	var notified int
	c.OnChange(func() {
		notified++
		if lo, hi := c.MinLevel(), c.MaxLevel(); lo != nil && hi != nil && *lo > *hi {
			t.Errorf("notification observed min %d > max %d\n", *lo, *hi)
		}
	})
	seq := []struct {
		setMin bool
		level  int
	}{
		{true, 2}, {false, 6}, {true, 7}, {false, 0}, {true, 5}, {false, 5}, {false, 3}, {true, 1},
	}
	for i, step := range seq {
		before := notified
		if step.setMin {
			err = c.SetMinLevel(Int(step.level))
		} else {
			err = c.SetMaxLevel(Int(step.level))
		}
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v\n", i, err)
		}
		if d := notified - before; d > 1 {
			t.Errorf("step %d: %d notifications for one mutation\n", i, d)
		}
	}
}

func TestValidation(t *testing.T) {
	if _, err := New(Int(3), Int(1), Int(5)); !errors.Is(err, ErrInvalidConstraints) {
		t.Errorf("expected invalid constraints for min > max, got %v\n", err)
	}
	if _, err := New(nil, Int(5), Int(5)); !errors.Is(err, ErrInvalidConstraints) {
		t.Errorf("expected invalid constraints for max >= levels, got %v\n", err)
	}
	if _, err := New(Int(-1), nil, nil); !errors.Is(err, ErrInvalidConstraints) {
		t.Errorf("expected invalid constraints for negative min, got %v\n", err)
	}

	c, err := New(nil, Int(6), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if _, err := c.EffectiveMaxLevel(); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected invariant error before levels are known, got %v\n", err)
	}
	if err := c.SetNumberOfLevels(4); !errors.Is(err, ErrInvalidConstraints) {
		t.Errorf("expected levels conflicting with max to fail, got %v\n", err)
	}
	if err := c.SetMaxLevel(Int(2)); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if err := c.SetNumberOfLevels(4); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if err := c.SetNumberOfLevels(4); !errors.Is(err, ErrNumberOfLevelsSet) {
		t.Errorf("expected second set to fail, got %v\n", err)
	}
	if err := c.SetMaxLevel(Int(4)); !errors.Is(err, ErrInvalidConstraints) {
		t.Errorf("expected out of range max to fail, got %v\n", err)
	}
	if err := c.RestoreState(Int(3), Int(2)); !errors.Is(err, ErrInvalidConstraints) {
		t.Errorf("expected inverted restore to fail, got %v\n", err)
	}
	if *c.MaxLevel() != 2 || c.MinLevel() != nil {
		t.Errorf("failed restore must not change state: %s\n", c)
	}

	empty, err := New(nil, nil, Int(0))
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if _, err := empty.EffectiveMaxLevel(); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected invariant error with no levels, got %v\n", err)
	}
}

func TestRestoreAndJSON(t *testing.T) {
	c, err := New(nil, nil, Int(5))
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	var notified int
	remove := c.OnChange(func() { notified++ })
	if err := json.Unmarshal([]byte(`{"minMIPLevel":1,"maxMIPLevel":3}`), c); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if notified != 1 {
		t.Errorf("expected one notification from restore, got %d\n", notified)
	}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	if string(data) != `{"minMIPLevel":1,"maxMIPLevel":3}` {
		t.Errorf("unexpected JSON: %s\n", string(data))
	}
	if err := c.RestoreState(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v\n", err)
	}
	data, _ = json.Marshal(c)
	if string(data) != `{}` {
		t.Errorf("expected unset levels to be omitted, got %s\n", string(data))
	}
	remove()
	c.SetMinLevel(Int(2))
	if notified != 2 {
		t.Errorf("removed watcher should not be notified, got %d notifications\n", notified)
	}
}
