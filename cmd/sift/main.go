package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/version"
)

func absoluteFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "absolute",
		Usage: "Print absolute paths instead of paths relative to the root",
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "sift",
		Usage:                  "Incremental, cancellable search across a project",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (default: .sift.kdl in the root)",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Project root directory to search (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Only consider files matching glob patterns (e.g., --include '*.go' --include 'src/**/*.ts')",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Exclude files matching glob patterns (e.g., --exclude '**/testdata/**')",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g., ':9090')",
			},
			&cli.StringFlag{
				Name:  "debug",
				Usage: "Comma-separated debug components to log (search,cache,queue,watch,scan,mcp); 'all' for every one",
			},
		},
		Before: func(c *cli.Context) error {
			if components := c.String("debug"); components != "" {
				debug.EnableDebug = "true"
				debug.SetDebugOutput(os.Stderr)
				if components != "all" {
					debug.SetComponents(components)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Search for a pattern and print every match",
				ArgsUsage: "<pattern>",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the run's events as JSON lines"},
					absoluteFlag(),
				}, queryFlags()...),
				Action: searchCommand,
			},
			{
				Name:  "refine",
				Usage: "Run one query per line of standard input against a shared cache and report reuse",
				Description: `Each line is searched as a new query. Lines that extend the previous
query are answered from cached results where possible; the first column
shows whether a run was fresh, reused or narrowed.`,
				Flags:  queryFlags(),
				Action: refineCommand,
			},
			{
				Name:  "files",
				Usage: "List the files a search would scan",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "glob", Aliases: []string{"g"}, Usage: "Comma-separated globs a file must match"},
					&cli.StringFlag{Name: "skip", Usage: "Comma-separated globs of files to skip"},
					absoluteFlag(),
				},
				Action: filesCommand,
			},
			{
				Name:  "mcp",
				Usage: "Start MCP (Model Context Protocol) server with stdio transport",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Usage: "Invalidate cached results when files change (overrides config)"},
				},
				Action: mcpCommand,
			},
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, version.FullInfo())
					return nil
				},
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
