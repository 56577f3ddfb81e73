package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/rampart/internal/access"
	"github.com/majorcontext/rampart/internal/config"
	"github.com/majorcontext/rampart/internal/daemon"
	"github.com/majorcontext/rampart/internal/log"
	"github.com/majorcontext/rampart/internal/report"
)

var (
	runConfigPath string
	runPips       []string
	runWatch      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the decision daemon over an event stream",
	Long: `Run the decision daemon. Raw events are read as NDJSON from stdin
until EOF or SIGINT/SIGTERM.

Each tracked build step (pip) is declared with --pip ID:ROOT_PID[:TREE_SIZE].
Events arriving for an undeclared pip are dropped.

Example:
  intercept-shim | rampart run --config rampart.yaml --pip pipA:4021:3`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "rampart.yaml", "daemon configuration file")
	runCmd.Flags().StringArrayVar(&runPips, "pip", nil, "pip to track as ID:ROOT_PID[:TREE_SIZE] (repeatable)")
	runCmd.Flags().BoolVar(&runWatch, "watch", true, "reload the manifest when it changes on disk")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	// The config's log section augments the global flags.
	if err := log.Init(log.Options{
		Verbose:    verbose || cfg.Log.Verbose,
		JSONFormat: jsonOut || cfg.Log.JSON,
		DebugFile:  cfg.Log.DebugFile,
	}); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer log.Close()

	var (
		sink     access.Sink    = report.NullSink{}
		complete daemon.CompletionSink
		audit    *report.AuditSink
	)
	if cfg.AuditDB != "" {
		store, err := report.OpenStore(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer store.Close()
		audit = report.NewAuditSink(store)
		sink = audit
		complete = audit
	}

	d, err := daemon.New(cfg, sink, complete)
	if err != nil {
		return err
	}
	if audit != nil {
		audit.Attribute = func(pid int) string {
			if proc, ok := d.Registry().Lookup(pid); ok {
				return proc.Pip().ID()
			}
			return ""
		}
	}

	for _, spec := range runPips {
		id, rootPID, treeSize, err := parsePipSpec(spec)
		if err != nil {
			return err
		}
		if err := d.RegisterPip(id, rootPID, treeSize); err != nil {
			return fmt.Errorf("registering pip %s: %w", id, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Source EOF ends the run; take the watcher down with it.
		defer cancel()
		return d.Run(ctx, daemon.NewJSONSource(cmd.InOrStdin()))
	})
	if runWatch {
		g.Go(func() error {
			err := d.WatchManifest(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// parsePipSpec parses ID:ROOT_PID[:TREE_SIZE]. A missing tree size means
// the size is unknown; completion then fires when the last live process
// exits.
func parsePipSpec(spec string) (id string, rootPID, treeSize int, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", 0, 0, fmt.Errorf("invalid pip spec %q: want ID:ROOT_PID[:TREE_SIZE]", spec)
	}
	id = parts[0]
	if id == "" {
		return "", 0, 0, fmt.Errorf("invalid pip spec %q: empty id", spec)
	}
	rootPID, err = strconv.Atoi(parts[1])
	if err != nil || rootPID <= 0 {
		return "", 0, 0, fmt.Errorf("invalid pip spec %q: bad root pid", spec)
	}
	treeSize = 1
	if len(parts) == 3 {
		treeSize, err = strconv.Atoi(parts[2])
		if err != nil || treeSize < 1 {
			return "", 0, 0, fmt.Errorf("invalid pip spec %q: bad tree size", spec)
		}
	}
	return id, rootPID, treeSize, nil
}
