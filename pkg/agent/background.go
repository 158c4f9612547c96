package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/devraulu/hilight/pkg/bus"
	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/persist"
)

// Background owns the user's settings and pushes every change to all
// document endpoints.
type Background struct {
	settings *persist.SettingsStore
	bus      *bus.Bus
	logger   *slog.Logger
}

func NewBackground(settings *persist.SettingsStore, b *bus.Bus) *Background {
	return &Background{
		settings: settings,
		bus:      b,
		logger:   slog.Default().With(slog.String("endpoint", EndpointBackground)),
	}
}

type colorRequest struct {
	Color string `json:"color"`
}

func (bg *Background) Handle(ctx context.Context, msg bus.Message) bus.Reply {
	switch msg.Action {
	case ActionGetHighlightState:
		st, err := bg.settings.Load(ctx)
		if err != nil {
			return errorReply(err)
		}
		return ok("", st)

	case ActionUpdateSettings:
		var u highlight.StateUpdate
		if err := msg.Decode(&u); err != nil {
			return invalid(msg.Action, err)
		}
		st, changed, err := bg.settings.Update(ctx, u)
		if err != nil {
			return errorReply(err)
		}
		if len(changed) > 0 {
			bg.broadcast(ctx, st)
		}
		return ok("", st)

	case ActionAddCustomColor, ActionRemoveCustomColor:
		var req colorRequest
		if err := msg.Decode(&req); err != nil {
			return invalid(msg.Action, err)
		}
		var (
			st  highlight.State
			err error
		)
		if msg.Action == ActionAddCustomColor {
			st, err = bg.settings.AddCustomColor(ctx, req.Color)
		} else {
			st, err = bg.settings.RemoveCustomColor(ctx, req.Color)
		}
		if err != nil {
			return errorReply(err)
		}
		bg.broadcast(ctx, st)
		return ok("", st)

	case ActionGetDockedPosition:
		p, found, err := bg.settings.DockedIconPosition(ctx)
		if err != nil {
			return errorReply(err)
		}
		if !found {
			return fail(CodeNotFound, "no docked icon position")
		}
		return ok("", p)

	case ActionSaveDockedPosition:
		var p persist.Point
		if err := msg.Decode(&p); err != nil {
			return invalid(msg.Action, err)
		}
		if err := bg.settings.SetDockedIconPosition(ctx, p); err != nil {
			return errorReply(err)
		}
		return ok("", p)

	default:
		return fail(CodeUnknownAction, fmt.Sprintf("unknown action %q", msg.Action))
	}
}

// broadcast sends the full state; each document applies what changed.
func (bg *Background) broadcast(ctx context.Context, st highlight.State) {
	msg, err := bus.NewMessage(ActionUpdateState, highlight.StateUpdate{
		Enabled:      &st.Enabled,
		Color:        &st.Color,
		PositionMode: &st.PositionMode,
		CustomColors: &st.CustomColors,
	})
	if err != nil {
		bg.logger.Error("encode state", slog.Any("err", err))
		return
	}
	msg.From = EndpointBackground
	n := bg.bus.Broadcast(ctx, TabPrefix, msg)
	bg.logger.Debug("state broadcast", slog.Int("tabs", n))
}
