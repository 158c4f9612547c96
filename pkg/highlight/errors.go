// Package highlight marks sub-strings of an HTML tree and relocates those
// marks in a re-parsed tree.
package highlight

import "errors"

// Tree errors
var (
	// ErrStructuralWrap indicates a segment cannot be wrapped without
	// corrupting the surrounding tree. The tree is left untouched.
	ErrStructuralWrap = errors.New("highlight: segment cannot be wrapped")

	// ErrInvalidBoundary indicates a range boundary outside its container.
	ErrInvalidBoundary = errors.New("highlight: invalid range boundary")

	// ErrDetached indicates range boundaries that do not share a tree.
	ErrDetached = errors.New("highlight: boundaries are in different trees")
)

// Anchor errors
var (
	// ErrAnchorResolution indicates neither the structural path nor the
	// text search could relocate a highlight.
	ErrAnchorResolution = errors.New("highlight: anchor could not be resolved")
)

// Session errors
var (
	// ErrNoSelection indicates a commit without a pending, non-empty selection.
	ErrNoSelection = errors.New("highlight: no pending selection")

	// ErrDisabled indicates the session is switched off.
	ErrDisabled = errors.New("highlight: highlighting is disabled")

	// ErrInvalidColor indicates a color that is not #rrggbb.
	ErrInvalidColor = errors.New("highlight: color must be #rrggbb")

	// ErrInvalidMode indicates an unknown icon position mode.
	ErrInvalidMode = errors.New("highlight: position mode must be follow or dock")
)
