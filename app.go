package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"

	"github.com/metcalfc/pagebook/internal/book"
	"github.com/metcalfc/pagebook/internal/config"
	"github.com/metcalfc/pagebook/internal/library"
	"github.com/metcalfc/pagebook/internal/reader"
	"github.com/metcalfc/pagebook/internal/session"
	"github.com/metcalfc/pagebook/internal/state"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// uiOptions are the front-end settings that do not belong to the session.
type uiOptions struct {
	showTOC     bool
	narrowWidth int
}

// env is everything a command needs, built once after flags are parsed.
type env struct {
	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
	store     state.Store
}

func setup(cmd *cli.Command) (*env, error) {
	cfg, err := config.LoadConfiguration(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("debug") {
		cfg.Logging.Level = "debug"
	}
	log, closer, err := cfg.Logging.Prepare()
	if err != nil {
		return nil, fmt.Errorf("unable to prepare logs: %w", err)
	}
	log.Debug().Strs("args", os.Args).Str("ver", version).Str("runtime", runtime.Version()).Msg("Program started")

	return &env{cfg: cfg, log: log, logCloser: closer}, nil
}

// openStore opens the progress store lazily, only the reader needs it.
func (e *env) openStore() (state.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	store, err := state.Open(e.cfg.Progress.Backend, e.cfg.Progress.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open progress store: %w", err)
	}
	e.store = store
	return store, nil
}

func (e *env) Close() error {
	var err error
	if e.store != nil {
		err = multierr.Append(err, e.store.Close())
	}
	e.log.Debug().Msg("Program ended")
	return multierr.Append(err, e.logCloser.Close())
}

// source builds the configured book source. Remote objects are cached
// under the library root.
func (e *env) source(ctx context.Context) (library.Source, error) {
	lc := e.cfg.Library
	switch lc.Source {
	case "r2":
		r2, err := library.NewR2(ctx, lc.R2, e.log)
		if err != nil {
			return nil, err
		}
		return library.NewCached(r2, lc.Root, e.log), nil
	default:
		return library.Dir{Root: lc.Root}, nil
	}
}

func (e *env) library(ctx context.Context) (*library.Library, error) {
	src, err := e.source(ctx)
	if err != nil {
		return nil, err
	}
	return library.New(src, e.cfg.Library.Cache, e.log), nil
}

// openBook accepts either a book id of the configured library or a path to
// an EPUB file.
func (e *env) openBook(ctx context.Context, arg string) (*library.Library, string, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, "", fmt.Errorf("book id or file is required")
	}
	if strings.HasSuffix(strings.ToLower(arg), ".epub") {
		if _, err := os.Stat(arg); err == nil {
			return library.OpenFile(arg, e.cfg.Library.Cache, e.log)
		}
	}
	lib, err := e.library(ctx)
	if err != nil {
		return nil, "", err
	}
	return lib, arg, nil
}

func (e *env) sessionOptions(spread bool) session.Options {
	mode := book.ParseViewMode(e.cfg.Reader.ViewMode)
	if spread {
		mode = book.Spread
	}
	return session.Options{
		ViewMode:     mode,
		ZoomStep:     e.cfg.Reader.ZoomStep,
		PreloadDelay: e.cfg.Reader.PreloadDelay,
		AudioRate:    e.cfg.Audio.Rate,
	}
}

// withEnv wraps an action with environment setup and teardown.
func withEnv(fn func(ctx context.Context, cmd *cli.Command, e *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		e, err := setup(cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, e.Close())
		}()
		if err = fn(ctx, cmd, e); err != nil {
			e.log.Error().Err(err).Msg("Program ended with error")
		}
		return err
	}
}

func readBook(ctx context.Context, cmd *cli.Command, e *env) error {
	lib, bookID, err := e.openBook(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	store, err := e.openStore()
	if err != nil {
		return err
	}
	if cmd.Bool("fresh") {
		if err := store.Clear(ctx, bookID); err != nil {
			e.log.Warn().Err(err).Str("book", bookID).Msg("Unable to clear progress")
		}
	}

	sess := session.New(lib, store, nil, e.sessionOptions(cmd.Bool("spread")), e.log)
	if err := sess.Open(ctx, bookID); err != nil {
		return multierr.Append(err, sess.Close())
	}
	err = runReader(ctx, sess, uiOptions{
		showTOC:     cmd.Bool("toc"),
		narrowWidth: e.cfg.Reader.NarrowWidth,
	})
	return multierr.Append(err, sess.Close())
}

func listBooks(ctx context.Context, cmd *cli.Command, e *env) error {
	lib, err := e.library(ctx)
	if err != nil {
		return err
	}
	out := cmd.Root().Writer
	if cmd.Bool("ids") {
		ids, err := lib.ListBooks(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	var only library.Group
	switch g := strings.ToLower(cmd.String("group")); g {
	case "":
	case "vocabulary":
		only = library.Vocabulary
	case "grammar":
		only = library.Grammar
	default:
		return fmt.Errorf("unknown book group %q", g)
	}

	entries, err := lib.Catalog(ctx)
	if err != nil {
		return err
	}
	writeCatalog(out, entries, only)
	return nil
}

// writeCatalog prints entries under a heading per group. A non zero only
// restricts the output to that group.
func writeCatalog(w io.Writer, entries []library.Entry, only library.Group) {
	var group library.Group
	for _, en := range entries {
		if only != 0 && en.Group != only {
			continue
		}
		if en.Group != group {
			group = en.Group
			fmt.Fprintln(w, group)
		}
		line := fmt.Sprintf("  %s\t%s", en.ID, en.Title)
		if en.Author != "" {
			line += " (" + en.Author + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func printCover(ctx context.Context, cmd *cli.Command, e *env) error {
	lib, bookID, err := e.openBook(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	p, err := lib.ResolveCover(ctx, bookID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, p)
	return nil
}

func printTOC(ctx context.Context, cmd *cli.Command, e *env) error {
	lib, bookID, err := e.openBook(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	meta, err := lib.Load(ctx, bookID)
	if err != nil {
		return err
	}
	writeTOC(cmd.Root().Writer, meta)
	return nil
}

func writeTOC(w io.Writer, meta *book.Metadata) {
	fmt.Fprintf(w, "%s (%d pages)\n", meta.Title, len(meta.PageLabels))
	meta.Walk(func(n *book.TocNode, depth int) bool {
		line := strings.Repeat("  ", depth+1) + n.Title
		if n.HasRange() {
			line += fmt.Sprintf("  [%s-%s]", n.StartPage, n.EndPage)
		}
		if len(n.AudioFiles) > 0 {
			line += fmt.Sprintf("  (%d audio)", len(n.AudioFiles))
		}
		fmt.Fprintln(w, line)
		return true
	})
}

func outputConfiguration(_ context.Context, cmd *cli.Command, e *env) error {
	data, err := config.Dump(e.cfg)
	if err != nil {
		return fmt.Errorf("unable to dump configuration: %w", err)
	}
	_, err = cmd.Root().Writer.Write(data)
	return err
}

// playTime formats the position of the current clip as m:ss or m:ss/m:ss.
func playTime(st reader.AudioState) string {
	clock := func(d time.Duration) string {
		d = d.Round(time.Second)
		return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
	}
	if st.Duration > 0 {
		return clock(st.CurrentTime) + "/" + clock(st.Duration)
	}
	return clock(st.CurrentTime)
}

func readFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "fresh", Usage: "ignore saved reading position", Local: true},
		&cli.BoolFlag{Name: "spread", Usage: "start in two page spread mode", Local: true},
		&cli.BoolFlag{Name: "toc", Usage: "show table of contents at startup", Local: true},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:            "pagebook",
		Usage:           "image book reader",
		Version:         fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		HideHelpCommand: true,
		ArgsUsage:       "[BOOK]",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log at debug level"},
		}, readFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return cli.ShowAppHelp(cmd)
			}
			return withEnv(readBook)(ctx, cmd)
		},
		Commands: []*cli.Command{
			{
				Name:      "read",
				Usage:     "Opens a book by id or an EPUB file",
				ArgsUsage: "BOOK",
				Flags:     readFlags(),
				Action:    withEnv(readBook),
			},
			{
				Name:  "list",
				Usage: "Lists books of the configured library",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ids", Aliases: []string{"1"}, Usage: "print book ids only"},
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "list only `GROUP` (vocabulary or grammar)"},
				},
				Action: withEnv(listBooks),
			},
			{
				Name:      "cover",
				Usage:     "Prints the local path of a book cover",
				ArgsUsage: "BOOK",
				Action:    withEnv(printCover),
			},
			{
				Name:      "toc",
				Usage:     "Prints the table of contents of a book",
				ArgsUsage: "BOOK",
				Action:    withEnv(printTOC),
			},
			{
				Name:   "dumpconfig",
				Usage:  "Dumps actual configuration (YAML)",
				Action: withEnv(outputConfiguration),
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCommand().Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
