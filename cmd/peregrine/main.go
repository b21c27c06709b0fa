// Command peregrine is a thin cobra CLI driving the potatosat example
// model for manual exercise of Session/Plan outside a test binary. It
// contains no engine logic itself: run builds a plan from a sequence
// of timestamped activity tokens and prints a view; view replays a
// previously saved plan from its history snapshot and prints a view of
// one resource over a range, demonstrating that cross-process resume
// re-executes nothing the first process already computed.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/config"
	"github.com/joelcourtney/peregrine/internal/history"
	"github.com/joelcourtney/peregrine/internal/plan"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/session"
	"github.com/joelcourtney/peregrine/pkg/activity"
)

// sessionFile is what run writes and view reads: the accumulated
// history plus the exact script that produced it, so a later process
// can rebuild an identical plan and hit the same cache.
type sessionFile struct {
	History *history.Snapshot `json:"history"`
	Script  []scriptEntry     `json:"script"`
}

type scriptEntry struct {
	Time     int64  `json:"time_seconds"`
	Activity string `json:"activity"`
}

func main() {
	var workers, stackLimit int
	var sessionPath string

	root := &cobra.Command{
		Use:           "peregrine",
		Short:         "Drive the potatosat example model through Session/Plan",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().IntVar(&workers, "workers", 0, "bound the plan's worker pool (0 = unbounded)")
	root.PersistentFlags().IntVar(&stackLimit, "stack-limit", 0, "override the inline-dispatch stack-depth heuristic (0 = default)")
	root.PersistentFlags().StringVar(&sessionPath, "session", ".peregrine/session.json", "path to the persisted session file")

	root.AddCommand(newRunCommand(&workers, &stackLimit, &sessionPath))
	root.AddCommand(newViewCommand(&workers, &stackLimit, &sessionPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand(workers, stackLimit *int, sessionPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run [time:activity ...]",
		Short: "Insert a script of timestamped activities and print the resulting view",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := parseScript(args)
			if err != nil {
				return err
			}

			opts, err := sessionOptions(*workers, *stackLimit)
			if err != nil {
				return err
			}

			var prior sessionFile
			if existing, loadErr := loadSessionFile(*sessionPath); loadErr == nil {
				prior = existing
			}

			entries = append(prior.Script, entries...)

			s, err := newPotatosatSession(prior.History, opts)
			if err != nil {
				return err
			}
			p, err := s.NewPlan(0, potatosat.InitialConditions(0, 0))
			if err != nil {
				return fmt.Errorf("build plan: %w", err)
			}
			if err := applyScript(p, entries); err != nil {
				return err
			}

			snap, err := s.IntoHistory()
			if err != nil {
				return fmt.Errorf("serialize history: %w", err)
			}
			if err := saveSessionFile(*sessionPath, sessionFile{History: snap, Script: entries}); err != nil {
				return err
			}

			return printView(p, potatosat.ResourceA, "a")
		},
	}
}

func newViewCommand(workers, stackLimit *int, sessionPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "view <a|b> <start-seconds> <end-seconds>",
		Short: "Replay a saved session and print a resource's values over a range",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			resourceID, label, err := resolveResourceName(args[0])
			if err != nil {
				return err
			}
			start, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse start: %w", err)
			}
			end, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("parse end: %w", err)
			}

			saved, err := loadSessionFile(*sessionPath)
			if err != nil {
				return fmt.Errorf("load session %s: %w", *sessionPath, err)
			}

			opts, err := sessionOptions(*workers, *stackLimit)
			if err != nil {
				return err
			}

			s, err := newPotatosatSession(saved.History, opts)
			if err != nil {
				return err
			}
			p, err := s.NewPlan(0, potatosat.InitialConditions(0, 0))
			if err != nil {
				return fmt.Errorf("build plan: %w", err)
			}
			if err := applyScript(p, saved.Script); err != nil {
				return err
			}

			rows, err := plan.View[uint32](p, resourceID, chrono.Range{
				Start: chrono.Duration(start) * chrono.Second,
				End:   chrono.Duration(end) * chrono.Second,
			})
			if err != nil {
				return fmt.Errorf("view %s: %w", label, err)
			}
			for _, row := range rows {
				fmt.Printf("%s = %d @ %s\n", label, row.Read, row.Time)
			}
			return nil
		},
	}
}

func sessionOptions(workers, stackLimit int) ([]session.Option, error) {
	cfg, found, err := config.LoadOptional(".")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if found {
		if workers == 0 {
			workers = cfg.Workers
		}
		if stackLimit == 0 {
			stackLimit = cfg.StackLimit
		}
	}

	var opts []session.Option
	if workers > 0 {
		opts = append(opts, session.WithWorkers(workers))
	}
	if stackLimit > 0 {
		opts = append(opts, session.WithStackLimit(stackLimit))
	}
	opts = append(opts, session.WithLogger(zap.NewNop().Sugar()))
	return opts, nil
}

func newPotatosatSession(prior *history.Snapshot, opts []session.Option) (*session.Session, error) {
	if prior != nil {
		return potatosat.NewModelSessionFromHistory(prior, opts...)
	}
	return potatosat.NewModelSession(opts...)
}

func applyScript(p *plan.Plan, entries []scriptEntry) error {
	for _, e := range entries {
		act, err := resolveActivity(e.Activity)
		if err != nil {
			return err
		}
		if _, err := p.Insert(chrono.Duration(e.Time)*chrono.Second, act); err != nil {
			return fmt.Errorf("insert %s@%ds: %w", e.Activity, e.Time, err)
		}
	}
	return nil
}

func printView(p *plan.Plan, resourceID resource.ID, label string) error {
	rows, err := plan.View[uint32](p, resourceID, chrono.Range{Start: -chrono.Second, End: 1 << 32})
	if err != nil {
		return fmt.Errorf("view %s: %w", label, err)
	}
	for _, row := range rows {
		fmt.Printf("%s = %d @ %s\n", label, row.Read, row.Time)
	}
	return nil
}

func parseScript(tokens []string) ([]scriptEntry, error) {
	entries := make([]scriptEntry, 0, len(tokens))
	for _, tok := range tokens {
		parts := strings.SplitN(tok, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid script token %q, want time:activity", tok)
		}
		t, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid time in token %q: %w", tok, err)
		}
		if _, err := resolveActivity(parts[1]); err != nil {
			return nil, err
		}
		entries = append(entries, scriptEntry{Time: t, Activity: parts[1]})
	}
	return entries, nil
}

func resolveActivity(name string) (activity.Activity, error) {
	switch name {
	case "IncA":
		return potatosat.IncA{}, nil
	case "IncB":
		return potatosat.IncB{}, nil
	case "SetBToA":
		return potatosat.SetBToA{}, nil
	case "SetAToB":
		return potatosat.SetAToB{}, nil
	case "AddBToA":
		return potatosat.AddBToA{}, nil
	case "SwapAB":
		return potatosat.SwapAB{}, nil
	default:
		return nil, fmt.Errorf("unknown activity %q", name)
	}
}

func resolveResourceName(name string) (resource.ID, string, error) {
	switch name {
	case "a":
		return potatosat.ResourceA, "a", nil
	case "b":
		return potatosat.ResourceB, "b", nil
	default:
		return 0, "", fmt.Errorf("unknown resource %q, want a or b", name)
	}
}

func loadSessionFile(path string) (sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionFile{}, err
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return sessionFile{}, fmt.Errorf("decode session file: %w", err)
	}
	return sf, nil
}

func saveSessionFile(path string, sf sessionFile) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
