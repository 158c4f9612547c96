// Package agent holds the bus handlers of the highlighter: one Content per
// rendered document, one Background coordinator for settings, and a
// StatusLog that collects the status lines shown to the user.
package agent

import (
	"errors"
	"fmt"

	"github.com/devraulu/hilight/pkg/bus"
	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/persist"
)

// Document context actions.
const (
	ActionGetState      = "getState"
	ActionUpdateState   = "updateState"
	ActionClearAll      = "clearAllHighlights"
	ActionSave          = "savePageHighlights"
	ActionLoad          = "loadPageHighlights"
	ActionDelete        = "deletePageHighlights"
	ActionExport        = "exportHighlights"
	ActionImport        = "importHighlights"
	ActionSelectText    = "selectText"
	ActionCommit        = "commitHighlight"
	ActionRemove        = "removeHighlight"
	ActionGetHighlights = "getHighlights"
	ActionRender        = "renderDocument"

	// ActionShowStatus flows the other way, to the ui endpoint.
	ActionShowStatus = "showStatus"
)

// Background actions.
const (
	ActionGetHighlightState  = "getHighlightState"
	ActionUpdateSettings     = "updateHighlightSettings"
	ActionAddCustomColor     = "addCustomColor"
	ActionRemoveCustomColor  = "removeCustomColor"
	ActionGetDockedPosition  = "getDockedIconPosition"
	ActionSaveDockedPosition = "saveDockedIconPosition"
)

const (
	EndpointBackground = "background"
	EndpointUI         = "ui"
	TabPrefix          = "tab:"
)

// Reply codes.
const (
	CodeEmptyState     = "empty_state"
	CodeNotFound       = "not_found"
	CodeInvalidFormat  = "invalid_format"
	CodeInvalidRequest = "invalid_request"
	CodeDisabled       = "disabled"
	CodeNoSelection    = "no_selection"
	CodeStructural     = "structural_wrap"
	CodeUnknownAction  = "unknown_action"
	CodeError          = "error"
)

func ok(status string, data any) bus.Reply {
	return bus.Reply{OK: true, Status: status, Data: data}
}

func fail(code, status string) bus.Reply {
	return bus.Reply{Code: code, Status: status}
}

func invalid(action string, err error) bus.Reply {
	return fail(CodeInvalidRequest, fmt.Sprintf("bad %s payload: %v", action, err))
}

// errorReply maps a domain error onto a reply code.
func errorReply(err error) bus.Reply {
	var code string
	switch {
	case errors.Is(err, persist.ErrEmptyState):
		code = CodeEmptyState
	case errors.Is(err, persist.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, persist.ErrInvalidFormat):
		code = CodeInvalidFormat
	case errors.Is(err, highlight.ErrDisabled):
		code = CodeDisabled
	case errors.Is(err, highlight.ErrNoSelection):
		code = CodeNoSelection
	case errors.Is(err, highlight.ErrStructuralWrap):
		code = CodeStructural
	case errors.Is(err, highlight.ErrInvalidColor),
		errors.Is(err, highlight.ErrInvalidMode),
		errors.Is(err, persist.ErrDuplicateColor):
		code = CodeInvalidRequest
	default:
		code = CodeError
	}
	return fail(code, err.Error())
}
