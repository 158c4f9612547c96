package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/devraulu/hilight/pkg/bus"
	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/page"
	"github.com/devraulu/hilight/pkg/persist"
	"golang.org/x/net/html"
)

// Content serves one rendered document. Its session is only touched by the
// goroutine of its bus endpoint.
type Content struct {
	name    string
	url     string
	hash    string
	title   string
	session *highlight.Session
	pages   *persist.Manager
	bus     *bus.Bus
	logger  *slog.Logger
	now     func() time.Time
}

// NewContent binds doc, loaded from rawURL, to the endpoint name.
func NewContent(name, rawURL string, doc *html.Node, pages *persist.Manager, b *bus.Bus, opts ...highlight.Option) (*Content, error) {
	hash, err := page.Hash(rawURL)
	if err != nil {
		return nil, fmt.Errorf("page identity: %w", err)
	}
	logger := slog.Default().With(slog.String("tab", name), slog.String("page", hash))
	opts = append([]highlight.Option{highlight.WithLogger(logger)}, opts...)

	return &Content{
		name:    name,
		url:     rawURL,
		hash:    hash,
		title:   page.Title(doc),
		session: highlight.NewSession(doc, opts...),
		pages:   pages,
		bus:     b,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (c *Content) Name() string     { return c.name }
func (c *Content) PageHash() string { return c.hash }
func (c *Content) Title() string    { return c.title }

// Init pulls the current settings from the background endpoint. Call it
// before registering c on the bus.
func (c *Content) Init(ctx context.Context) error {
	r, err := c.bus.Request(ctx, EndpointBackground, bus.Message{Action: ActionGetHighlightState, From: c.name})
	if err != nil {
		return err
	}
	if !r.OK {
		return fmt.Errorf("background: %s", r.Status)
	}
	st, ok := r.Data.(highlight.State)
	if !ok {
		return fmt.Errorf("background: unexpected state %T", r.Data)
	}
	cs := slices.Clone(st.CustomColors)
	_, err = c.session.Update(highlight.StateUpdate{
		Enabled:      &st.Enabled,
		Color:        &st.Color,
		PositionMode: &st.PositionMode,
		CustomColors: &cs,
	})
	return err
}

func (c *Content) Handle(ctx context.Context, msg bus.Message) bus.Reply {
	switch msg.Action {
	case ActionGetState:
		return ok("", c.session.State())
	case ActionUpdateState:
		return c.updateState(msg)
	case ActionClearAll:
		return c.clearAll(ctx, msg)
	case ActionSave:
		return c.notify(ctx, c.save(ctx))
	case ActionLoad:
		return c.notify(ctx, c.load(ctx))
	case ActionDelete:
		return c.notify(ctx, c.delete(ctx))
	case ActionExport:
		return c.notify(ctx, c.export(ctx))
	case ActionImport:
		return c.notify(ctx, c.importBundle(ctx, msg))
	case ActionSelectText:
		return c.selectText(msg)
	case ActionCommit:
		return c.commit(ctx, msg)
	case ActionRemove:
		return c.remove(msg)
	case ActionGetHighlights:
		return ok("", c.session.Highlights())
	case ActionRender:
		out, err := c.session.Render()
		if err != nil {
			return errorReply(err)
		}
		return ok("", map[string]string{"html": out})
	default:
		return fail(CodeUnknownAction, fmt.Sprintf("unknown action %q", msg.Action))
	}
}

// notify forwards the status line of r to the ui endpoint, if there is one.
func (c *Content) notify(ctx context.Context, r bus.Reply) bus.Reply {
	if r.Status == "" {
		return r
	}
	msg, err := bus.NewMessage(ActionShowStatus, map[string]string{"message": r.Status})
	if err != nil {
		return r
	}
	msg.From = c.name
	if err := c.bus.Send(ctx, EndpointUI, msg); err != nil && !errors.Is(err, bus.ErrUnknownEndpoint) {
		c.logger.Warn("status not delivered", slog.Any("err", err))
	}
	return r
}

func (c *Content) updateState(msg bus.Message) bus.Reply {
	var u highlight.StateUpdate
	if err := msg.Decode(&u); err != nil {
		return invalid(msg.Action, err)
	}
	changed, err := c.session.Update(u)
	if err != nil {
		return errorReply(err)
	}
	if len(changed) == 0 {
		return ok("", c.session.State())
	}
	return ok("updated "+strings.Join(changed, ", "), c.session.State())
}

type clearRequest struct {
	Where string `json:"where"`
}

func (c *Content) clearAll(ctx context.Context, msg bus.Message) bus.Reply {
	var req clearRequest
	if err := msg.Decode(&req); err != nil {
		return invalid(msg.Action, err)
	}
	pred, err := highlight.CompileFilter(req.Where)
	if err != nil {
		return invalid(msg.Action, err)
	}
	n := c.session.Clear(pred)
	if n == 0 {
		return c.notify(ctx, fail(CodeEmptyState, "no highlights to clear"))
	}
	return c.notify(ctx, ok(fmt.Sprintf("cleared %d highlights", n), map[string]int{"cleared": n}))
}

func (c *Content) record() persist.PageRecord {
	return persist.PageRecord{
		PageHash:    c.hash,
		URL:         c.url,
		Title:       c.title,
		Highlights:  c.session.Highlights(),
		LastUpdated: c.now().UTC(),
	}
}

func (c *Content) save(ctx context.Context) bus.Reply {
	rec := c.record()
	if err := c.pages.Save(ctx, rec); err != nil {
		if errors.Is(err, persist.ErrEmptyState) {
			return fail(CodeEmptyState, "no highlights to save on this page")
		}
		return errorReply(err)
	}
	return ok(fmt.Sprintf("saved %d highlights", len(rec.Highlights)), map[string]any{
		"pageHash": c.hash,
		"saved":    len(rec.Highlights),
	})
}

func (c *Content) load(ctx context.Context) bus.Reply {
	rec, err := c.pages.Load(ctx, c.hash)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return fail(CodeNotFound, "no saved highlights for this page")
		}
		return errorReply(err)
	}
	report := c.session.Restore(rec.Highlights)
	return ok(fmt.Sprintf("restored %d/%d highlights", report.Restored, report.Attempted), report)
}

func (c *Content) delete(ctx context.Context) bus.Reply {
	if err := c.pages.Delete(ctx, c.hash); err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return fail(CodeNotFound, "no saved highlights for this page")
		}
		return errorReply(err)
	}
	return ok("deleted saved highlights for this page", nil)
}

// ExportFile is the download produced by exportHighlights.
type ExportFile struct {
	FileName string `json:"fileName"`
	Content  string `json:"content"`
}

func (c *Content) export(ctx context.Context) bus.Reply {
	bundle, err := c.pages.Export(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrEmptyState) {
			return fail(CodeEmptyState, "no saved highlights to export")
		}
		return errorReply(err)
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return errorReply(err)
	}
	return ok(fmt.Sprintf("exported %d pages", len(bundle.PageHighlights)), ExportFile{
		FileName: ExportFileName(bundle.ExportDate),
		Content:  string(raw),
	})
}

// ExportFileName names the download for a bundle exported at t.
func ExportFileName(t time.Time) string {
	return "highlights-export-" + t.Format("2006-01-02") + ".json"
}

// importBundle accepts the file text either as a JSON string or inline.
func (c *Content) importBundle(ctx context.Context, msg bus.Message) bus.Reply {
	raw := []byte(msg.Payload)
	var text string
	if err := json.Unmarshal(msg.Payload, &text); err == nil {
		raw = []byte(text)
	}

	n, err := c.pages.Import(ctx, raw)
	if err != nil {
		if errors.Is(err, persist.ErrInvalidFormat) {
			return fail(CodeInvalidFormat, "import failed: "+err.Error())
		}
		return errorReply(err)
	}
	return ok(fmt.Sprintf("imported %d pages", n), map[string]int{"imported": n})
}

type selectRequest struct {
	Text       string `json:"text"`
	Occurrence int    `json:"occurrence"`
}

func (c *Content) selectText(msg bus.Message) bus.Reply {
	var req selectRequest
	if err := msg.Decode(&req); err != nil {
		return invalid(msg.Action, err)
	}
	if err := c.session.SelectText(req.Text, req.Occurrence); err != nil {
		return errorReply(err)
	}
	text, _ := c.session.Pending()
	return ok("", map[string]string{"text": text})
}

type commitRequest struct {
	Color string `json:"color"`
}

func (c *Content) commit(ctx context.Context, msg bus.Message) bus.Reply {
	var req commitRequest
	if err := msg.Decode(&req); err != nil {
		return invalid(msg.Action, err)
	}
	before := c.session.State().Color
	if req.Color == "" {
		req.Color = before
	}

	created, err := c.session.Commit(req.Color)
	if err != nil {
		return errorReply(err)
	}

	// the chosen color becomes the user's color everywhere
	if req.Color != before {
		u, _ := bus.NewMessage(ActionUpdateSettings, highlight.StateUpdate{Color: &req.Color})
		u.From = c.name
		if err := c.bus.Send(ctx, EndpointBackground, u); err != nil {
			c.logger.Warn("color not synced", slog.Any("err", err))
		}
	}
	return ok("", created)
}

type removeRequest struct {
	ID string `json:"id"`
}

func (c *Content) remove(msg bus.Message) bus.Reply {
	var req removeRequest
	if err := msg.Decode(&req); err != nil {
		return invalid(msg.Action, err)
	}
	if !c.session.Click(req.ID) {
		return fail(CodeNotFound, fmt.Sprintf("no highlight %q", req.ID))
	}
	return ok("", nil)
}
