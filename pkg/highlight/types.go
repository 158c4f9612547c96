package highlight

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Segment is an atomic, wrappable span of one text leaf. Node is borrowed
// from the document tree.
type Segment struct {
	Node  *html.Node
	Start int
	End   int
}

// Text returns the covered characters.
func (s Segment) Text() string {
	if s.Node == nil || s.Start < 0 || s.End > len(s.Node.Data) || s.Start > s.End {
		return ""
	}
	return s.Node.Data[s.Start:s.End]
}

// BoundingBox is the viewport rectangle captured at save time. Advisory only.
type BoundingBox struct {
	Top    float64 `json:"top" yaml:"top"`
	Left   float64 `json:"left" yaml:"left"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

type Highlight struct {
	ID         string      `json:"id" yaml:"id"`
	Text       string      `json:"text" yaml:"text"`
	Color      string      `json:"color" yaml:"color"`
	ZOrder     int         `json:"zOrder" yaml:"zOrder"`
	AnchorPath string      `json:"anchorPath" yaml:"anchorPath"`
	Position   BoundingBox `json:"position" yaml:"position"`
}

type PositionMode string

const (
	PositionFollow PositionMode = "follow"
	PositionDock   PositionMode = "dock"
)

func (m PositionMode) Valid() bool {
	return m == PositionFollow || m == PositionDock
}

// State is the per-document view of the user's settings.
type State struct {
	Enabled      bool         `json:"enabled"`
	Color        string       `json:"color" yaml:"color"`
	PositionMode PositionMode `json:"positionMode"`
	CustomColors []string     `json:"customColors"`
}

// StateUpdate carries any subset of State; nil fields are left alone.
type StateUpdate struct {
	Enabled      *bool         `json:"enabled,omitempty"`
	Color        *string       `json:"color,omitempty"`
	PositionMode *PositionMode `json:"positionMode,omitempty"`
	CustomColors *[]string     `json:"customColors,omitempty"`
}

// Empty reports whether u changes nothing.
func (u StateUpdate) Empty() bool {
	return u.Enabled == nil && u.Color == nil && u.PositionMode == nil && u.CustomColors == nil
}

// Validate checks every field u sets.
func (u StateUpdate) Validate() error {
	if u.Color != nil && !ValidColor(*u.Color) {
		return ErrInvalidColor
	}
	if u.PositionMode != nil && !u.PositionMode.Valid() {
		return ErrInvalidMode
	}
	if u.CustomColors != nil {
		for _, c := range *u.CustomColors {
			if !ValidColor(c) {
				return fmt.Errorf("%w: %q", ErrInvalidColor, c)
			}
		}
	}
	return nil
}

// Apply merges u into s and returns the json names of the fields that
// actually changed. u must already be valid.
func (s *State) Apply(u StateUpdate) []string {
	var changed []string
	if u.Enabled != nil && *u.Enabled != s.Enabled {
		s.Enabled = *u.Enabled
		changed = append(changed, "enabled")
	}
	if u.Color != nil && *u.Color != s.Color {
		s.Color = *u.Color
		changed = append(changed, "color")
	}
	if u.PositionMode != nil && *u.PositionMode != s.PositionMode {
		s.PositionMode = *u.PositionMode
		changed = append(changed, "positionMode")
	}
	if u.CustomColors != nil && !slices.Equal(*u.CustomColors, s.CustomColors) {
		s.CustomColors = slices.Clone(*u.CustomColors)
		changed = append(changed, "customColors")
	}
	return changed
}

const DefaultColor = "#ffff00"

// DefaultColors are offered before any custom color.
var DefaultColors = []string{
	"#ffff00",
	"#ffeb3b",
	"#ff9800",
	"#f44336",
	"#4caf50",
	"#2196f3",
	"#9c27b0",
}

// DefaultState is the state a fresh install starts with.
func DefaultState() State {
	return State{
		Enabled:      true,
		Color:        DefaultColor,
		PositionMode: PositionFollow,
		CustomColors: []string{},
	}
}

// ConfiguredState is DefaultState with the color and position mode replaced
// by the given ones when they are valid.
func ConfiguredState(color, mode string) State {
	st := DefaultState()
	if ValidColor(color) {
		st.Color = color
	}
	if m := PositionMode(mode); m.Valid() {
		st.PositionMode = m
	}
	return st
}

// Colors returns the default palette followed by the custom colors.
func (s State) Colors() []string {
	out := make([]string, 0, len(DefaultColors)+len(s.CustomColors))
	out = append(out, DefaultColors...)
	return append(out, s.CustomColors...)
}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidColor reports whether c is a #rrggbb color.
func ValidColor(c string) bool {
	return hexColor.MatchString(c)
}

// ParseCustomColor accepts "#RRGGBB" or bare "RRGGBB" and returns the
// upper-cased "#RRGGBB" form.
func ParseCustomColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if !ValidColor(s) {
		return "", ErrInvalidColor
	}
	return strings.ToUpper(s), nil
}
