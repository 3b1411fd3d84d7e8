// Package mip constrains which resolution levels (MIP levels) a render layer may draw from.
package mip

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNumberOfLevelsSet is returned when the number of levels is set a second time.
	ErrNumberOfLevelsSet = errors.New("number of MIP levels can only be set once")

	// ErrInvalidConstraints is returned for negative, inverted or out of range bounds.
	ErrInvalidConstraints = errors.New("invalid MIP level constraints")

	// ErrInvariant signals a resolved level that validation should have made impossible.
	ErrInvariant = errors.New("MIP level invariant violated")
)

// Int returns a pointer to a copy of v, handy for optional levels.
func Int(v int) *int {
	return &v
}

// State is the persisted form of the constraints.  Unset bounds are omitted.
type State struct {
	MinMIPLevel *int `json:"minMIPLevel,omitempty"`
	MaxMIPLevel *int `json:"maxMIPLevel,omitempty"`
}

// Constraints holds optional minimum and maximum MIP levels.  An unset minimum acts as 0
// (finest) and an unset maximum as the coarsest available level.  When both are set,
// min <= max holds after every mutation.  Constraints are owned by a single goroutine.
type Constraints struct {
	min       *int
	max       *int
	numLevels *int
	watchers  map[int]func()
	nextWatch int
}

// New returns constraints with the given initial bounds.  numLevels may be nil if the
// number of levels is not yet known.
func New(minLevel, maxLevel, numLevels *int) (*Constraints, error) {
	c := &Constraints{watchers: make(map[int]func())}
	if numLevels != nil {
		if err := c.SetNumberOfLevels(*numLevels); err != nil {
			return nil, err
		}
	}
	if err := c.validate(minLevel, maxLevel); err != nil {
		return nil, err
	}
	c.min = copyLevel(minLevel)
	c.max = copyLevel(maxLevel)
	return c, nil
}

func copyLevel(v *int) *int {
	if v == nil {
		return nil
	}
	return Int(*v)
}

func sameLevel(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SetNumberOfLevels fixes the number of available levels.  It may only be called once.
func (c *Constraints) SetNumberOfLevels(n int) error {
	if c.numLevels != nil {
		return ErrNumberOfLevelsSet
	}
	if n < 0 {
		return fmt.Errorf("%w: negative number of levels %d", ErrInvalidConstraints, n)
	}
	c.numLevels = Int(n)
	if err := c.validate(c.min, c.max); err != nil {
		c.numLevels = nil
		return err
	}
	return nil
}

// NumberOfLevels returns the number of levels and whether it has been set.
func (c *Constraints) NumberOfLevels() (int, bool) {
	if c.numLevels == nil {
		return 0, false
	}
	return *c.numLevels, true
}

func (c *Constraints) validateLevel(name string, v *int) error {
	if v == nil {
		return nil
	}
	if *v < 0 {
		return fmt.Errorf("%w: %s level %d is negative", ErrInvalidConstraints, name, *v)
	}
	if c.numLevels != nil && *v >= *c.numLevels {
		return fmt.Errorf("%w: %s level %d must be less than the number of levels (%d)",
			ErrInvalidConstraints, name, *v, *c.numLevels)
	}
	return nil
}

func (c *Constraints) validate(minLevel, maxLevel *int) error {
	if err := c.validateLevel("minimum", minLevel); err != nil {
		return err
	}
	if err := c.validateLevel("maximum", maxLevel); err != nil {
		return err
	}
	if minLevel != nil && maxLevel != nil && *minLevel > *maxLevel {
		return fmt.Errorf("%w: minimum level %d is greater than maximum level %d", ErrInvalidConstraints, *minLevel, *maxLevel)
	}
	return nil
}

// MinLevel returns the explicitly set minimum level or nil.
func (c *Constraints) MinLevel() *int {
	return copyLevel(c.min)
}

// MaxLevel returns the explicitly set maximum level or nil.
func (c *Constraints) MaxLevel() *int {
	return copyLevel(c.max)
}

// SetMinLevel changes the minimum level.  If it now exceeds a set maximum, the maximum
// snaps to it.  Watchers are notified once if anything changed.
func (c *Constraints) SetMinLevel(v *int) error {
	if err := c.validateLevel("minimum", v); err != nil {
		return err
	}
	if sameLevel(c.min, v) {
		return nil
	}
	c.min = copyLevel(v)
	if c.min != nil && c.max != nil && *c.min > *c.max {
		c.max = Int(*c.min)
	}
	c.notify()
	return nil
}

// SetMaxLevel changes the maximum level.  If it is now below a set minimum, the minimum
// snaps to it.  Watchers are notified once if anything changed.
func (c *Constraints) SetMaxLevel(v *int) error {
	if err := c.validateLevel("maximum", v); err != nil {
		return err
	}
	if sameLevel(c.max, v) {
		return nil
	}
	c.max = copyLevel(v)
	if c.min != nil && c.max != nil && *c.min > *c.max {
		c.min = Int(*c.max)
	}
	c.notify()
	return nil
}

// RestoreState replaces both bounds after validating them together.
func (c *Constraints) RestoreState(minLevel, maxLevel *int) error {
	if err := c.validate(minLevel, maxLevel); err != nil {
		return err
	}
	if sameLevel(c.min, minLevel) && sameLevel(c.max, maxLevel) {
		return nil
	}
	c.min = copyLevel(minLevel)
	c.max = copyLevel(maxLevel)
	c.notify()
	return nil
}

// EffectiveMinLevel returns the minimum level with the default applied.
func (c *Constraints) EffectiveMinLevel() (int, error) {
	if c.numLevels == nil {
		return 0, fmt.Errorf("%w: number of levels not set", ErrInvariant)
	}
	if c.min == nil {
		return 0, nil
	}
	if *c.min < 0 {
		return 0, fmt.Errorf("%w: minimum level %d", ErrInvariant, *c.min)
	}
	return *c.min, nil
}

// EffectiveMaxLevel returns the maximum level with the default applied.
func (c *Constraints) EffectiveMaxLevel() (int, error) {
	if c.numLevels == nil {
		return 0, fmt.Errorf("%w: number of levels not set", ErrInvariant)
	}
	level := *c.numLevels - 1
	if c.max != nil {
		level = *c.max
	}
	if level < 0 {
		return 0, fmt.Errorf("%w: maximum level %d", ErrInvariant, level)
	}
	return level, nil
}

// OnChange registers a function called after every mutation that changes a bound.
// The returned function removes the registration.
func (c *Constraints) OnChange(fn func()) (remove func()) {
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = fn
	return func() {
		delete(c.watchers, id)
	}
}

func (c *Constraints) notify() {
	for _, fn := range c.watchers {
		fn()
	}
}

// State returns the persisted form of the constraints.
func (c *Constraints) State() State {
	return State{MinMIPLevel: c.MinLevel(), MaxMIPLevel: c.MaxLevel()}
}

func (c *Constraints) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.State())
}

// UnmarshalJSON restores bounds from their persisted form.
func (c *Constraints) UnmarshalJSON(data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if c.watchers == nil {
		c.watchers = make(map[int]func())
	}
	return c.RestoreState(st.MinMIPLevel, st.MaxMIPLevel)
}

func (c *Constraints) String() string {
	lvl := func(v *int) string {
		if v == nil {
			return "default"
		}
		return fmt.Sprintf("%d", *v)
	}
	n := "unknown"
	if c.numLevels != nil {
		n = fmt.Sprintf("%d", *c.numLevels)
	}
	return fmt.Sprintf("MIP levels [%s, %s] of %s", lvl(c.min), lvl(c.max), n)
}
