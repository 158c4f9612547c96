package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/storage"
)

// Keys of the sync namespace.
const (
	KeyEnabled            = "enabled"
	KeyColor              = "color"
	KeyPositionMode       = "positionMode"
	KeyCustomColors       = "customColors"
	KeyDockedIconPosition = "dockedIconPosition"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SettingsStore reads and writes the user's settings in the sync namespace.
// Missing keys fall back to the defaults.
type SettingsStore struct {
	store    storage.Store
	timeout  time.Duration
	defaults highlight.State
}

func NewSettingsStore(store storage.Store, timeout time.Duration, defaults highlight.State) *SettingsStore {
	return &SettingsStore{store: store, timeout: timeout, defaults: defaults}
}

func (s *SettingsStore) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SettingsStore) Load(ctx context.Context) (highlight.State, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	got, err := s.store.Get(ctx, storage.Sync, KeyEnabled, KeyColor, KeyPositionMode, KeyCustomColors)
	if err != nil {
		return highlight.State{}, fmt.Errorf("read settings: %w", err)
	}

	st := s.defaults
	st.CustomColors = slices.Clone(s.defaults.CustomColors)
	fields := []struct {
		key string
		dst any
	}{
		{KeyEnabled, &st.Enabled},
		{KeyColor, &st.Color},
		{KeyPositionMode, &st.PositionMode},
		{KeyCustomColors, &st.CustomColors},
	}
	for _, f := range fields {
		raw, ok := got[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return highlight.State{}, fmt.Errorf("decode setting %s: %w", f.key, err)
		}
	}
	if st.CustomColors == nil {
		st.CustomColors = []string{}
	}
	return st, nil
}

// Update validates u, writes the fields it changes and returns the new state
// together with the names of the changed fields.
func (s *SettingsStore) Update(ctx context.Context, u highlight.StateUpdate) (highlight.State, []string, error) {
	if err := u.Validate(); err != nil {
		return highlight.State{}, nil, err
	}
	st, err := s.Load(ctx)
	if err != nil {
		return highlight.State{}, nil, err
	}
	changed := st.Apply(u)
	if len(changed) == 0 {
		return st, nil, nil
	}

	values := map[string]any{
		KeyEnabled:      st.Enabled,
		KeyColor:        st.Color,
		KeyPositionMode: st.PositionMode,
		KeyCustomColors: st.CustomColors,
	}
	items := make(map[string][]byte, len(changed))
	for _, k := range changed {
		raw, err := json.Marshal(values[k])
		if err != nil {
			return highlight.State{}, nil, err
		}
		items[k] = raw
	}

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if err := s.store.Set(ctx, storage.Sync, items); err != nil {
		return highlight.State{}, nil, fmt.Errorf("write settings: %w", err)
	}
	return st, changed, nil
}

// AddCustomColor accepts "#RRGGBB" or "RRGGBB". Colors already offered,
// default or custom, are rejected.
func (s *SettingsStore) AddCustomColor(ctx context.Context, color string) (highlight.State, error) {
	c, err := highlight.ParseCustomColor(color)
	if err != nil {
		return highlight.State{}, err
	}
	st, err := s.Load(ctx)
	if err != nil {
		return highlight.State{}, err
	}
	if slices.ContainsFunc(st.Colors(), func(have string) bool { return strings.EqualFold(have, c) }) {
		return highlight.State{}, fmt.Errorf("%w: %s already exists", ErrDuplicateColor, c)
	}

	colors := append(slices.Clone(st.CustomColors), c)
	st, _, err = s.Update(ctx, highlight.StateUpdate{CustomColors: &colors})
	return st, err
}

// RemoveCustomColor drops color from the custom palette. When it was the
// current color the current color resets to the default.
func (s *SettingsStore) RemoveCustomColor(ctx context.Context, color string) (highlight.State, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return highlight.State{}, err
	}
	idx := slices.IndexFunc(st.CustomColors, func(have string) bool { return strings.EqualFold(have, color) })
	if idx < 0 {
		return highlight.State{}, fmt.Errorf("%w: custom color %s", ErrNotFound, color)
	}

	colors := slices.Delete(slices.Clone(st.CustomColors), idx, idx+1)
	u := highlight.StateUpdate{CustomColors: &colors}
	if strings.EqualFold(st.Color, color) {
		def := highlight.DefaultColor
		u.Color = &def
	}
	st, _, err = s.Update(ctx, u)
	return st, err
}

func (s *SettingsStore) DockedIconPosition(ctx context.Context) (Point, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	got, err := s.store.Get(ctx, storage.Sync, KeyDockedIconPosition)
	if err != nil {
		return Point{}, false, fmt.Errorf("read settings: %w", err)
	}
	raw, ok := got[KeyDockedIconPosition]
	if !ok {
		return Point{}, false, nil
	}
	var p Point
	if err := json.Unmarshal(raw, &p); err != nil {
		return Point{}, false, fmt.Errorf("decode setting %s: %w", KeyDockedIconPosition, err)
	}
	return p, true, nil
}

func (s *SettingsStore) SetDockedIconPosition(ctx context.Context, p Point) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return s.store.Set(ctx, storage.Sync, map[string][]byte{KeyDockedIconPosition: raw})
}
