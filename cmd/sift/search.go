package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/sift/internal/search"
	"github.com/standardbeagle/sift/internal/types"
	"github.com/standardbeagle/sift/pkg/pathutil"
)

// queryFlags returns the flags shared by search and refine.
func queryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "regex",
			Aliases: []string{"x"},
			Usage:   "Treat the pattern as a regular expression",
		},
		&cli.BoolFlag{
			Name:    "structural",
			Aliases: []string{"q"},
			Usage:   "Treat the pattern as a tree-sitter query; the @match capture is reported",
		},
		&cli.BoolFlag{
			Name:    "case-sensitive",
			Aliases: []string{"s"},
			Usage:   "Match case exactly",
		},
		&cli.BoolFlag{
			Name:    "word",
			Aliases: []string{"w"},
			Usage:   "Only match whole words",
		},
		&cli.StringFlag{
			Name:    "glob",
			Aliases: []string{"g"},
			Usage:   "Comma-separated globs a file must match (e.g., '*.go,docs/**')",
		},
		&cli.StringFlag{
			Name:  "skip",
			Usage: "Comma-separated globs of files to skip",
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "Search only this file",
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Aliases: []string{"j"},
			Usage:   "Number of files scanned at once (overrides config)",
		},
	}
}

// queryFromFlags builds the query for pattern from the command's flags.
func queryFromFlags(c *cli.Context, e *engine, pattern string) (types.QueryParams, error) {
	if c.Bool("regex") && c.Bool("structural") {
		return types.QueryParams{}, fmt.Errorf("--regex and --structural are mutually exclusive")
	}
	q := types.QueryParams{
		FindText:  pattern,
		MatchCase: c.Bool("case-sensitive"),
		WholeWord: c.Bool("word"),
		Include:   c.String("glob"),
		Exclude:   c.String("skip"),
		Mode:      types.ModeText,
	}
	switch {
	case c.Bool("regex"):
		q.Mode = types.ModeRegex
	case c.Bool("structural"):
		q.Mode = types.ModeStructural
	}
	if file := c.String("file"); file != "" {
		id, err := e.files.FileID(file)
		if err != nil {
			return types.QueryParams{}, err
		}
		q.Scope = types.ScopeCurrentFile
		q.ActiveFile = id
	}
	return q, nil
}

// printer renders a run's events.
type printer struct {
	out      io.Writer
	errOut   io.Writer
	root     string
	absolute bool
	json     bool
	quiet    bool // print nothing but errors
}

// summary describes a finished run.
type summary struct {
	State     search.State
	Origin    string
	Matches   int
	Files     int
	Completed int
	Total     int
	Elapsed   time.Duration
}

func (s summary) String() string {
	return fmt.Sprintf("%d matches in %d files (%d/%d scanned, %s, %s, %v)",
		s.Matches, s.Files, s.Completed, s.Total, s.State, s.Origin, s.Elapsed.Round(time.Microsecond))
}

// runSearch starts q and prints its events until the run ends. Cancelling
// ctx stops the run.
func runSearch(ctx context.Context, e *engine, q types.QueryParams, p printer) (summary, error) {
	start := time.Now()
	r, err := e.orch.Search(ctx, q)
	if err != nil {
		return summary{}, err
	}

	var enc *json.Encoder
	if p.json {
		enc = json.NewEncoder(p.out)
	}

	sum := summary{Origin: r.Origin().String()}
	for ev := range r.Events() {
		if enc != nil && !p.quiet {
			if err := enc.Encode(ev); err != nil {
				return sum, err
			}
		}
		if ev.Kind != search.EventResult || ev.Result == nil {
			continue
		}
		res := ev.Result
		name := pathutil.Display(res.FileID, p.root, p.absolute)
		if res.Err != nil {
			fmt.Fprintf(p.errOut, "%s: %v\n", name, res.Err)
			continue
		}
		if !res.HasMatches() {
			continue
		}
		sum.Matches += len(res.Matches)
		sum.Files++
		if enc == nil && !p.quiet {
			printMatches(p.out, name, *res)
		}
	}
	<-r.Done()

	sum.State = r.State()
	sum.Completed, sum.Total = r.Progress()
	sum.Elapsed = time.Since(start)
	if sum.State == search.StateFailed {
		return sum, r.Err()
	}
	return sum, nil
}

// printMatches writes one grep-style line per match.
func printMatches(w io.Writer, name string, res types.FileResult) {
	for _, m := range res.Matches {
		var text string
		if line, ok := res.LineFor(m.Line); ok {
			text = strings.TrimRight(line.Text, "\r\n")
		}
		fmt.Fprintf(w, "%s:%d:%d:%s\n", name, m.Line, m.Column+1, text)
	}
}

// interruptible returns a context cancelled by SIGINT or SIGTERM.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: sift search [flags] <pattern>", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e := newEngine(cfg)
	defer e.Close()
	if err := e.serveMetrics(); err != nil {
		return err
	}

	q, err := queryFromFlags(c, e, c.Args().First())
	if err != nil {
		return err
	}

	ctx, stop := interruptible(c.Context)
	defer stop()

	sum, err := runSearch(ctx, e, q, printer{
		out:      c.App.Writer,
		errOut:   c.App.ErrWriter,
		root:     cfg.Project.Root,
		absolute: c.Bool("absolute"),
		json:     c.Bool("json"),
	})
	if err != nil {
		return err
	}
	if !c.Bool("json") {
		fmt.Fprintln(c.App.ErrWriter, sum)
	}
	if sum.Matches == 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// refineCommand runs one query per line of standard input against the same
// cache, the way an editor re-runs a search while the user types.
func refineCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e := newEngine(cfg)
	defer e.Close()
	if err := e.serveMetrics(); err != nil {
		return err
	}

	ctx, stop := interruptible(c.Context)
	defer stop()

	return refine(ctx, e, c, bufio.NewScanner(c.App.Reader), c.App.Writer)
}

func refine(ctx context.Context, e *engine, c *cli.Context, lines *bufio.Scanner, out io.Writer) error {
	p := printer{out: io.Discard, errOut: c.App.ErrWriter, root: e.cfg.Project.Root, quiet: true}
	for lines.Scan() {
		pattern := lines.Text()
		if pattern == "" {
			continue
		}
		q, err := queryFromFlags(c, e, pattern)
		if err != nil {
			return err
		}
		sum, err := runSearch(ctx, e, q, p)
		if err != nil {
			fmt.Fprintf(out, "%-9s %q: %v\n", "error", pattern, err)
			continue
		}
		fmt.Fprintf(out, "%-9s %6d matches %5d files %10v  %q\n",
			sum.Origin, sum.Matches, sum.Files, sum.Elapsed.Round(time.Microsecond), pattern)
		if ctx.Err() != nil {
			return nil
		}
	}
	return lines.Err()
}

func filesCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	e := newEngine(cfg)
	defer e.Close()

	ctx, stop := interruptible(c.Context)
	defer stop()

	files, err := e.scanner.ListFiles(ctx, c.String("glob"), c.String("skip"))
	if err != nil {
		return err
	}
	for _, id := range files {
		fmt.Fprintln(c.App.Writer, pathutil.Display(id, cfg.Project.Root, c.Bool("absolute")))
	}
	return nil
}
