package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/channelaccess/snapshot/pkg/pvsnap"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "pvsnap",
		Usage:   "save and restore sets of process variables",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			saveCommand(),
			restoreCommand(),
			showCommand(),
			annotateCommand(),
			parseCommand(),
			historyCommand(),
			validateCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"PVSNAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override the configured log level (trace, debug, info, warn, error)",
		},
		&cli.BoolFlag{
			Name:  "log-json",
			Usage: "Emit logs as JSON",
		},
	}
}

func macroFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "macros",
			Aliases: []string{"m"},
			Usage:   `Macro substitutions, e.g. "SYS=TEST,DEV=1"`,
		},
		&cli.StringFlag{
			Name:  "macro-file",
			Usage: "YAML or TOML file with macro substitutions; --macros takes precedence",
		},
	}
}

func saveCommand() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Read every PV in a request file and write a save file",
		ArgsUsage: "<request-file> <output-file-or-dir>",
		Flags: append(macroFlags(),
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Write the file even if some PVs could not be read"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "Deadline for the whole operation (default from config)"},
			&cli.StringFlag{Name: "keywords", Usage: "Comma separated keywords stored in the header"},
			&cli.StringFlag{Name: "comment", Usage: "Free text comment stored in the header"},
			&cli.BoolFlag{Name: "no-latest-link", Usage: "Do not update <request>_latest.snap when saving into a directory"},
		),
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("save needs <request-file> <output>")
			}
			macros, err := macrosFrom(c)
			if err != nil {
				return err
			}
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := pvsnap.SaveOptions{
				Force:        c.Bool("force"),
				Timeout:      c.Duration("timeout"),
				NoLatestLink: c.Bool("no-latest-link"),
				Metadata: pvsnap.Metadata{
					Keywords: c.String("keywords"),
					Comment:  c.String("comment"),
				},
			}
			_, report, err := e.SaveRequestFile(ctx, c.Args().Get(0), macros, c.Args().Get(1), opts)
			if report != nil {
				printReport(c.App.Writer, report)
			}
			return err
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Write the values of a save file back onto their PVs",
		ArgsUsage: "<save-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Report failures without returning an error"},
			&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Usage: "Deadline for the whole operation (default from config)"},
			&cli.BoolFlag{Name: "skip-equal", Usage: "Leave PVs alone when they already hold the saved value"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("restore needs <save-file>")
			}
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := e.RestoreOptions()
			opts.Force = c.Bool("force")
			if c.IsSet("timeout") {
				opts.Timeout = c.Duration("timeout")
			}
			if c.IsSet("skip-equal") {
				opts.SkipEqual = c.Bool("skip-equal")
			}
			report, err := e.RestoreFile(ctx, c.Args().Get(0), opts)
			if report != nil {
				printReport(c.App.Writer, report)
			}
			return err
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print the header and values of a save file",
		ArgsUsage: "<save-file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("show needs <save-file>")
			}
			snap, err := pvsnap.ReadFile(c.Args().Get(0))
			if err != nil {
				return err
			}
			printSnapshot(c.App.Writer, snap)
			return nil
		},
	}
}

func annotateCommand() *cli.Command {
	return &cli.Command{
		Name:      "annotate",
		Usage:     "Replace the keywords or comment of an existing save file",
		ArgsUsage: "<save-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "keywords", Usage: "New comma separated keywords"},
			&cli.StringFlag{Name: "comment", Usage: "New comment"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("annotate needs <save-file>")
			}
			if !c.IsSet("keywords") && !c.IsSet("comment") {
				return fmt.Errorf("nothing to change: pass --keywords or --comment")
			}
			return pvsnap.ReplaceMetadata(c.Args().Get(0), func(m *pvsnap.Metadata) {
				if c.IsSet("keywords") {
					m.Keywords = c.String("keywords")
				}
				if c.IsSet("comment") {
					m.Comment = c.String("comment")
				}
			})
		},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Expand a request file and print the resulting PV names",
		ArgsUsage: "<request-file>",
		Flags:     macroFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("parse needs <request-file>")
			}
			macros, err := macrosFrom(c)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(c, true)
			if err != nil {
				return err
			}
			names, err := pvsnap.ParseRequestFile(c.Args().Get(0), pvsnap.MergeMacros(cfg.Macros, macros))
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(c.App.Writer, name)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List operations recorded in the journal",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "failed", Usage: "Only show operations with failures"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tKIND\tPVS\tFAILED\tPATH")
			err = e.History(func(id pvsnap.JournalEntryID, r *pvsnap.Report) error {
				failed := len(r.Failures())
				if c.Bool("failed") && failed == 0 && r.Err == "" {
					return nil
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
					id, r.Started.Format(time.RFC3339), r.Kind, len(r.Results), failed, r.Path)
				return nil
			})
			if flushErr := w.Flush(); err == nil {
				err = flushErr
			}
			return err
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Load and validate the configuration without touching any PV",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "config ok: transport=%s timeout=%s\n", cfg.Transport, cfg.Timeout)
			return nil
		},
	}
}

// loadConfig reads --config. With optional set, a missing flag yields the
// sim defaults so file-only commands work without a config.
func loadConfig(c *cli.Context, optional bool) (*pvsnap.Config, error) {
	path := c.String("config")
	if path == "" && optional {
		return pvsnap.DefaultConfig(), nil
	}
	cfg, err := pvsnap.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if c.Bool("log-json") {
		cfg.Log.JSON = true
	}
	return cfg, nil
}

func openEngine(c *cli.Context) (*pvsnap.Engine, error) {
	cfg, err := loadConfig(c, false)
	if err != nil {
		return nil, err
	}
	return pvsnap.NewEngine(cfg)
}

func macrosFrom(c *cli.Context) (pvsnap.MacroTable, error) {
	table := pvsnap.MacroTable{}
	if path := c.String("macro-file"); path != "" {
		fromFile, err := pvsnap.LoadMacroFile(path)
		if err != nil {
			return nil, fmt.Errorf("macro file: %w", err)
		}
		table = fromFile
	}
	inline, err := pvsnap.ParseMacros(c.String("macros"))
	if err != nil {
		return nil, err
	}
	return pvsnap.MergeMacros(table, inline), nil
}

func printReport(w io.Writer, r *pvsnap.Report) {
	fmt.Fprintf(w, "%s %s: %d pvs, %d failed in %s\n",
		r.Kind, r.Path, len(r.Results), len(r.Failures()), r.Elapsed().Round(time.Millisecond))
	for _, f := range r.Failures() {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Name, f.Status, f.Message)
	}
}

func printSnapshot(w io.Writer, snap *pvsnap.Snapshot) {
	m := snap.Metadata
	fmt.Fprintf(w, "saved:    %s\n", m.SaveTimeAsTime().Format(time.RFC3339))
	if m.Keywords != "" {
		fmt.Fprintf(w, "keywords: %s\n", m.Keywords)
	}
	if m.Comment != "" {
		fmt.Fprintf(w, "comment:  %s\n", m.Comment)
	}
	if m.ReqFileName != "" {
		fmt.Fprintf(w, "request:  %s\n", m.ReqFileName)
	}
	if len(m.Macros) > 0 {
		fmt.Fprintf(w, "macros:   %s\n", pvsnap.FormatMacros(m.Macros))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, entry := range snap.Entries {
		fmt.Fprintf(tw, "%s\t%s\n", entry.Name, entry.Value)
	}
	_ = tw.Flush()
}
