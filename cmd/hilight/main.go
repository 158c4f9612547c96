package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devraulu/hilight/pkg/agent"
	"github.com/devraulu/hilight/pkg/config"
	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/logger"
	"github.com/devraulu/hilight/pkg/page"
	"github.com/devraulu/hilight/pkg/persist"
	"github.com/devraulu/hilight/pkg/storage"
	"github.com/devraulu/hilight/pkg/verify"
)

const usage = `usage: hilight [-config path] <command> [args]

commands:
  pages                        list pages with saved highlights
  show <url|hash>              print the saved record of a page
  delete <url|hash>            delete the saved record of a page
  export [-format json|yaml] [-o file]
  import <file>                merge an export file, existing pages win
  render <url>                 fetch a page and print it with its highlights
  verify [-urls file]          re-fetch saved pages and report drift
  settings                     print the stored highlight settings
`

type app struct {
	cfg      *config.Config
	pages    *persist.Manager
	settings *persist.SettingsStore
	out      io.Writer
}

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
	} else if err != nil {
		fmt.Fprintln(os.Stderr, "couldn't load config:", err)
		os.Exit(1)
	}

	// logs go to stderr so stdout stays clean for export and render
	slog.SetDefault(logger.New(cfg, os.Stderr))

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		slog.Error("fatal: couldn't open storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	timeout := cfg.Storage.GetTimeout()
	a := &app{
		cfg:      cfg,
		pages:    persist.NewManager(store, timeout),
		settings: persist.NewSettingsStore(store, timeout, highlight.ConfiguredState(cfg.Highlight.DefaultColor, cfg.Highlight.PositionMode)),
		out:      os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hilight:", err)
		store.Close()
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "pages":
		return a.listPages(ctx)
	case "show":
		return a.show(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "import":
		return a.importFile(ctx, args)
	case "render":
		return a.render(ctx, args)
	case "verify":
		return a.verify(ctx, args)
	case "settings":
		return a.showSettings(ctx)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

// pageKey accepts either a page URL or a stored page hash.
func pageKey(arg string) (string, error) {
	if strings.Contains(arg, "://") {
		return page.Hash(arg)
	}
	return arg, nil
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s takes exactly one argument", cmd)
	}
	return args[0], nil
}

func (a *app) listPages(ctx context.Context) error {
	pages, err := a.pages.Pages(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HASH\tHIGHLIGHTS\tUPDATED\tURL")
	for _, p := range pages {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", p.PageHash, p.Highlights, p.LastUpdated.Format(time.RFC3339), p.URL)
	}
	return w.Flush()
}

func (a *app) show(ctx context.Context, args []string) error {
	arg, err := oneArg("show", args)
	if err != nil {
		return err
	}
	key, err := pageKey(arg)
	if err != nil {
		return err
	}
	rec, err := a.pages.Load(ctx, key)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(rec)
}

func (a *app) delete(ctx context.Context, args []string) error {
	arg, err := oneArg("delete", args)
	if err != nil {
		return err
	}
	key, err := pageKey(arg)
	if err != nil {
		return err
	}
	if err := a.pages.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted", key)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	format := fs.String("format", "json", "json or yaml")
	output := fs.String("o", "", "write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bundle, err := a.pages.Export(ctx)
	if err != nil {
		return err
	}

	var data []byte
	switch *format {
	case "json":
		data, err = json.MarshalIndent(bundle, "", "  ")
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(bundle)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	if err != nil {
		return err
	}

	if *output == "" {
		_, err = a.out.Write(data)
		return err
	}
	if *output == "." {
		*output = agent.ExportFileName(bundle.ExportDate)
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d pages to %s\n", len(bundle.PageHighlights), *output)
	return nil
}

func (a *app) importFile(ctx context.Context, args []string) error {
	path, err := oneArg("import", args)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	n, err := a.pages.Import(ctx, raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "imported %d pages\n", n)
	return nil
}

func (a *app) fetcher() *page.Fetcher {
	return page.NewFetcher(a.cfg.Server.UserAgent, a.cfg.Server.GetFetchTimeout(), a.cfg.Server.RespectRobots)
}

func (a *app) render(ctx context.Context, args []string) error {
	url, err := oneArg("render", args)
	if err != nil {
		return err
	}
	key, err := page.Hash(url)
	if err != nil {
		return err
	}
	rec, err := a.pages.Load(ctx, key)
	if err != nil {
		return err
	}

	doc, err := a.fetcher().Fetch(ctx, url)
	if err != nil {
		return err
	}
	tree, err := page.Parse(bytes.NewReader(doc.HTML))
	if err != nil {
		return err
	}

	s := highlight.NewSession(tree, highlight.WithBaseZ(a.cfg.Highlight.BaseZ))
	report := s.Restore(rec.Highlights)
	slog.Info("restored highlights", slog.Int("restored", report.Restored), slog.Int("attempted", report.Attempted))

	out, err := s.Render()
	if err != nil {
		return err
	}
	_, err = io.WriteString(a.out, out)
	return err
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	urls := fs.String("urls", "", "file with one URL per line to limit the check")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var only map[string]string
	if *urls != "" {
		var err error
		if only, err = verify.LoadURLs(*urls); err != nil {
			return err
		}
	}

	v := verify.New(a.pages, a.fetcher(),
		verify.WithWorkers(a.cfg.Verify.Workers),
		verify.WithDelay(a.cfg.Verify.GetDelay()),
	)
	results, err := v.Run(ctx, only)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tRESTORED\tURL")
	for _, r := range results {
		state := "ok"
		switch {
		case r.Skipped:
			state = "skipped"
		case r.Err != nil:
			state = "error: " + r.Err.Error()
		case !r.Intact():
			state = "drifted"
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%s\n", state, r.Report.Restored, r.Report.Attempted, r.URL)
	}
	return w.Flush()
}

func (a *app) showSettings(ctx context.Context) error {
	st, err := a.settings.Load(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
