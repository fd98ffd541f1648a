package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pantryat/backend"
	syncer "pantryat/backend/sync"
	"pantryat/internal/config"
	"pantryat/internal/daemon"
	"pantryat/internal/shutdown"
	"pantryat/internal/tui"
	"pantryat/internal/utils"
)

// daemonQueue presents a running daemon's queue to the status screen.
type daemonQueue struct {
	client *daemon.Client
	log    zerolog.Logger
}

func (q daemonQueue) Status() syncer.Status {
	resp, err := q.client.Status()
	if err != nil || resp.Sync == nil {
		return syncer.Status{LastError: "daemon unreachable"}
	}
	return *resp.Sync
}

func (q daemonQueue) Drain(context.Context) syncer.DrainResult {
	resp, err := q.client.Drain()
	if err != nil || resp.Drain == nil {
		q.log.Debug().Err(err).Msg("daemon drain failed")
		return syncer.DrainResult{}
	}
	return *resp.Drain
}

func (q daemonQueue) ClearQueue(context.Context) {
	if _, err := q.client.Clear(); err != nil {
		q.log.Warn().Err(err).Msg("daemon clear failed")
	}
}

type syncStatusJSON struct {
	Endpoint string        `json:"endpoint"`
	Online   bool          `json:"online"`
	Daemon   bool          `json:"daemon_running"`
	Breaker  string        `json:"breaker,omitempty"`
	Sync     syncer.Status `json:"sync"`
	Result   string        `json:"result"`
}

type pendingJSON struct {
	ID         string        `json:"id"`
	Action     syncer.Action `json:"action"`
	Attempts   int           `json:"attempts"`
	EnqueuedAt string        `json:"enqueued_at"`
}

// newSyncCmd creates the 'sync' subcommand
func newSyncCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Send pending changes now",
		Long:  "Drain the pending queue against the sync endpoint. Offline, changes stay queued.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd, cfg, stdout, appOptions{needsSync: true}, doSync)
		},
	}

	syncCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show queue and connectivity state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd, cfg, stdout, appOptions{needsSync: true}, doSyncStatus)
		},
	})

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "List pending operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd, cfg, stdout, appOptions{needsSync: true}, doSyncQueue)
		},
	}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard all pending operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd, cfg, stdout, appOptions{needsSync: true}, func(ctx context.Context, a *app) error {
				return doSyncQueueClear(ctx, a, cfg.Stdin)
			})
		},
	})
	syncCmd.AddCommand(queueCmd)

	return syncCmd
}

func doSync(ctx context.Context, a *app) error {
	var res syncer.DrainResult
	var st syncer.Status
	if a.daemonRunning() {
		resp, err := a.daemon.Drain()
		if err != nil {
			if resp != nil && resp.Message == "offline" {
				return utils.ErrOffline()
			}
			return err
		}
		res, st = *resp.Drain, *resp.Sync
	} else {
		if !a.network.Online() {
			return utils.ErrOffline()
		}
		res = a.queue.Drain(ctx)
		st = a.queue.Status()
	}

	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{"drain": res, "sync": st, "result": ResultActionCompleted})
	}
	switch {
	case res.Skipped:
		_, _ = fmt.Fprintln(a.stdout, "A sync is already running")
	case res.Attempted == 0:
		_, _ = fmt.Fprintln(a.stdout, "Nothing to sync")
	default:
		_, _ = fmt.Fprintf(a.stdout, "Synced %d of %d operations\n", res.Synced, res.Attempted)
		if retry := res.Failed - res.Dropped; retry > 0 {
			_, _ = fmt.Fprintf(a.stdout, "Failed: %d (will retry)\n", retry)
		}
		if res.Dropped > 0 {
			_, _ = fmt.Fprintf(a.stdout, "Dropped after %d attempts: %d\n", syncer.MaxAttempts, res.Dropped)
		}
	}
	_, _ = fmt.Fprintf(a.stdout, "Pending: %d\n", st.Pending)
	a.done(ResultActionCompleted)
	return nil
}

func doSyncStatus(ctx context.Context, a *app) error {
	out := syncStatusJSON{Endpoint: a.conf.Sync.Endpoint, Result: ResultInfoOnly}
	if a.daemonRunning() {
		if resp, err := a.daemon.Status(); err == nil && resp.Sync != nil {
			out.Daemon = true
			out.Online = resp.Online
			out.Breaker = resp.Breaker
			out.Sync = *resp.Sync
		}
	}
	if !out.Daemon {
		out.Online = a.network.Online()
		out.Sync = a.queue.Status()
	}

	if a.jsonOutput() {
		return writeJSON(a.stdout, out)
	}
	network := "offline"
	if out.Online {
		network = "online"
	}
	_, _ = fmt.Fprintf(a.stdout, "Endpoint: %s\n", out.Endpoint)
	_, _ = fmt.Fprintf(a.stdout, "Network:  %s\n", network)
	_, _ = fmt.Fprintf(a.stdout, "Pending:  %d\n", out.Sync.Pending)
	if out.Daemon {
		_, _ = fmt.Fprintf(a.stdout, "Daemon:   running (breaker %s)\n", out.Breaker)
		_, _ = fmt.Fprintf(a.stdout, "Synced:   %d\n", out.Sync.Synced)
		_, _ = fmt.Fprintf(a.stdout, "Dropped:  %d\n", out.Sync.Dropped)
	} else {
		_, _ = fmt.Fprintln(a.stdout, "Daemon:   not running")
	}
	if out.Sync.LastDrainAt != nil {
		_, _ = fmt.Fprintf(a.stdout, "Last sync: %s\n", out.Sync.LastDrainAt.Local().Format(time.DateTime))
	}
	if out.Sync.LastError != "" {
		_, _ = fmt.Fprintf(a.stdout, "Last error: %s\n", out.Sync.LastError)
	}
	a.done(ResultInfoOnly)
	return nil
}

func doSyncQueue(ctx context.Context, a *app) error {
	pending := a.queue.Pending()
	if a.jsonOutput() {
		out := make([]pendingJSON, 0, len(pending))
		for _, op := range pending {
			out = append(out, pendingJSON{
				ID:         op.ID,
				Action:     op.Action,
				Attempts:   op.AttemptCount,
				EnqueuedAt: time.UnixMilli(op.EnqueuedAt).UTC().Format(time.RFC3339),
			})
		}
		return writeJSON(a.stdout, map[string]any{"pending": out, "count": len(out), "result": ResultInfoOnly})
	}
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No pending operations")
		a.done(ResultInfoOnly)
		return nil
	}
	w := tabwriter.NewWriter(a.stdout, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tACTION\tATTEMPTS\tQUEUED")
	for _, op := range pending {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", op.ID, op.Action, op.AttemptCount,
			time.UnixMilli(op.EnqueuedAt).Local().Format(time.DateTime))
	}
	_ = w.Flush()
	a.done(ResultInfoOnly)
	return nil
}

func doSyncQueueClear(ctx context.Context, a *app, stdin io.Reader) error {
	n := a.queue.PendingCount()
	if a.daemonRunning() {
		if resp, err := a.daemon.Status(); err == nil && resp.Sync != nil {
			n = resp.Sync.Pending
		}
	}
	if n == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No pending operations")
		a.done(ResultInfoOnly)
		return nil
	}
	if !a.conf.NoPrompt {
		if stdin == nil {
			stdin = os.Stdin
		}
		if !utils.PromptYesNo(fmt.Sprintf("Discard %d pending operations?", n), stdin, a.stdout) {
			_, _ = fmt.Fprintln(a.stdout, "Cancelled")
			return nil
		}
	}

	if a.daemonRunning() {
		if _, err := a.daemon.Clear(); err != nil {
			return err
		}
	} else {
		a.queue.ClearQueue(ctx)
	}
	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{"cleared": n, "result": ResultActionCompleted})
	}
	_, _ = fmt.Fprintf(a.stdout, "Discarded %d pending operations\n", n)
	a.done(ResultActionCompleted)
	return nil
}

// newCacheCmd creates the 'cache' subcommand
func newCacheCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the offline recipe cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show the number of cached records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				info, err := a.cache.Info(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"recipes": info.Recipes, "favorites": info.Favorites, "result": ResultInfoOnly})
				}
				_, _ = fmt.Fprintf(a.stdout, "Recipes:   %d\nFavorites: %d\n", info.Recipes, info.Favorites)
				a.done(ResultInfoOnly)
				return nil
			})
		},
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Remove expired cache records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				res, err := a.cache.Sweep(ctx, time.Now())
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"recipes": res.Recipes, "favorites": res.Favorites, "result": ResultActionCompleted})
				}
				_, _ = fmt.Fprintf(a.stdout, "Removed %d recipes and %d favorites\n", res.Recipes, res.Favorites)
				a.done(ResultActionCompleted)
				return nil
			})
		},
	})
	return cacheCmd
}

// newStatusCmd creates the 'status' subcommand
func newStatusCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pantry and sync status screen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				if f, ok := stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) && !a.jsonOutput() {
					return runStatusScreen(ctx, a)
				}
				return doStatusSummary(ctx, a)
			})
		},
	}
}

func runStatusScreen(ctx context.Context, a *app) error {
	a.network.Start(ctx)
	opts := tui.Options{
		Pantry:          a.pantry,
		Network:         a.network,
		Recipes:         a.recipes,
		LowStockDefault: a.conf.GetLowStockDefault(),
	}
	switch {
	case a.daemonRunning():
		opts.Queue = daemonQueue{client: a.daemon, log: a.log}
	case a.queue != nil:
		opts.Queue = a.queue
	}
	p := tea.NewProgram(tui.New(ctx, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func doStatusSummary(ctx context.Context, a *app) error {
	items, err := a.pantry.ListItems(ctx)
	if err != nil {
		return err
	}
	low := backend.LowStockAt(items, a.conf.GetLowStockDefault())
	expiring := backend.ExpiringWithin(items, time.Now(), 3*24*time.Hour)
	online := a.network.Online()

	summary := map[string]any{
		"items":    len(items),
		"low":      len(low),
		"expiring": len(expiring),
		"online":   online,
		"result":   ResultInfoOnly,
	}
	var st *syncer.Status
	if a.queue != nil {
		s := a.queue.Status()
		if a.daemonRunning() {
			s = daemonQueue{client: a.daemon, log: a.log}.Status()
		}
		st = &s
		summary["sync"] = s
	}
	if a.jsonOutput() {
		return writeJSON(a.stdout, summary)
	}

	network := "offline"
	if online {
		network = "online"
	}
	_, _ = fmt.Fprintf(a.stdout, "Items:    %d\n", len(items))
	_, _ = fmt.Fprintf(a.stdout, "Low:      %d\n", len(low))
	_, _ = fmt.Fprintf(a.stdout, "Expiring: %d\n", len(expiring))
	_, _ = fmt.Fprintf(a.stdout, "Network:  %s\n", network)
	if st != nil {
		_, _ = fmt.Fprintf(a.stdout, "Pending:  %d\n", st.Pending)
	} else {
		_, _ = fmt.Fprintln(a.stdout, "Sync:     disabled")
	}
	a.done(ResultInfoOnly)
	return nil
}

// newDaemonCmd creates the 'daemon' subcommand
func newDaemonCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the background sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppOptions(cmd, cfg, stdout, appOptions{needsSync: true}, func(ctx context.Context, a *app) error {
				if daemon.IsRunning(a.pidPath(), a.socketPath()) {
					_, _ = fmt.Fprintln(a.stdout, "Daemon is already running")
					a.done(ResultInfoOnly)
					return nil
				}
				var forkArgs []string
				if cfg.ConfigPath != "" {
					forkArgs = append(forkArgs, "--config-path", cfg.ConfigPath)
				}
				if cfg.DBPath != "" {
					forkArgs = append(forkArgs, "--db-path", cfg.DBPath)
				}
				if cfg.Offline {
					forkArgs = append(forkArgs, "--offline")
				}
				err := daemon.Fork(daemon.Config{
					PIDPath:    a.pidPath(),
					SocketPath: a.socketPath(),
					Executable: cfg.Executable,
					ForkArgs:   forkArgs,
				})
				if err != nil {
					return err
				}
				if !daemon.WaitRunning(a.pidPath(), a.socketPath(), 5*time.Second) {
					return errors.New("daemon did not start within 5s")
				}
				_, _ = fmt.Fprintln(a.stdout, "Daemon started")
				a.done(ResultActionCompleted)
				return nil
			})
		},
	})

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the background sync daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				if !daemon.IsRunning(a.pidPath(), a.socketPath()) {
					_, _ = fmt.Fprintln(a.stdout, "Daemon is not running")
					a.done(ResultInfoOnly)
					return nil
				}
				if err := daemon.NewClient(a.socketPath()).Stop(); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(a.stdout, "Daemon stopped")
				a.done(ResultActionCompleted)
				return nil
			})
		},
	})

	daemonCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				var resp *daemon.Response
				if daemon.IsRunning(a.pidPath(), a.socketPath()) {
					resp, _ = daemon.NewClient(a.socketPath()).Status()
				}
				if a.jsonOutput() {
					if resp == nil {
						resp = &daemon.Response{Status: "ok"}
					}
					return writeJSON(a.stdout, resp)
				}
				if resp == nil {
					_, _ = fmt.Fprintln(a.stdout, "Daemon is not running")
				} else {
					_, _ = fmt.Fprintf(a.stdout, "Daemon is running (pid %d)\n", resp.PID)
					if resp.Sync != nil {
						_, _ = fmt.Fprintf(a.stdout, "Pending: %d\n", resp.Sync.Pending)
					}
				}
				a.done(ResultInfoOnly)
				return nil
			})
		},
	})
	return daemonCmd
}

// runDaemon is the body of the forked --daemon-mode process.
func runDaemon(ctx context.Context, cfg *Config) error {
	conf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		conf = config.DefaultConfig()
	}
	bl, err := utils.NewBackgroundLoggerWithEnabled(conf.IsBackgroundLoggingEnabled())
	if err != nil {
		utils.Warnf("background log unavailable: %v", err)
	}
	logger := bl.Zerolog()

	mgr := shutdown.NewManager(ctx, logger)
	stopSignals := mgr.HandleSignals()
	defer stopSignals()
	mgr.RegisterCleanup("background log", func(context.Context) error {
		bl.Close()
		return nil
	})

	notifier := newNotifier(conf, logger)
	mgr.RegisterCleanup("notifications", func(context.Context) error {
		return notifier.Close()
	})

	a, err := newApp(mgr.Context(), cfg, io.Discard, appOptions{
		logger:    &logger,
		direct:    true,
		needsSync: true,
		onDropped: func(op syncer.PendingOperation, err error) {
			notifier.Notify(droppedNotification(op, err))
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("daemon setup failed")
		mgr.Shutdown()
		_ = mgr.Wait(context.Background())
		return err
	}
	mgr.RegisterCleanup("pantry store", func(context.Context) error {
		a.close()
		return nil
	})
	// Opening the record cache sweeps expired recipes and favorites.
	if err := a.cache.Open(mgr.Context()); err != nil {
		logger.Warn().Err(err).Msg("record cache unavailable")
	}

	dcfg := daemon.Config{
		PIDPath:     a.pidPath(),
		SocketPath:  a.socketPath(),
		IdleTimeout: a.conf.GetDaemonIdleTimeout(),
	}
	if a.conf.IsFileWatcherEnabled() {
		dcfg.WatchFiles = []string{a.conf.GetDatabasePath()}
		dcfg.Debounce = a.conf.GetDaemonDebounce()
	}
	logger.Info().Str("socket", dcfg.SocketPath).Str("db", a.conf.GetDatabasePath()).Msg("daemon starting")

	runErr := daemon.New(dcfg, a.queue, a.network, logger).Run(mgr.Context())

	mgr.Shutdown()
	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Wait(waitCtx); err != nil {
		logger.Warn().Err(err).Msg("cleanup incomplete")
	}
	return runErr
}
