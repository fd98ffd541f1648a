package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pantryat/backend"
	"pantryat/backend/mealdb"
	"pantryat/backend/recipes"
	"pantryat/backend/remote"
	"pantryat/backend/sqlite"
	syncer "pantryat/backend/sync"
	"pantryat/internal/config"
	"pantryat/internal/connectivity"
	"pantryat/internal/credentials"
	"pantryat/internal/daemon"
	"pantryat/internal/kvstore"
	"pantryat/internal/recordcache"
	"pantryat/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds invocation settings. Tests fill the injectable fields to keep
// runs isolated from the user's machine.
type Config struct {
	NoPrompt     bool
	Verbose      bool
	OutputFormat string
	DBPath       string // Path to database file
	ConfigPath   string // Path to config file
	Offline      bool

	Stdin      io.Reader
	Keyring    credentials.Keyring // nil uses the system keyring
	HTTPClient *http.Client
	SocketPath string
	PIDPath    string
	Executable string // daemon fork target, for testing
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	return ExecuteContext(context.Background(), args, stdout, stderr, cfg)
}

// ExecuteContext is Execute with a context that cancels long-running commands.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer, cfg *Config) int {
	if cfg == nil {
		cfg = &Config{}
	}
	// Flags apply to this invocation only.
	run := *cfg
	cfg = &run
	rootCmd := NewPantryAt(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			if cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// NewPantryAt creates the root command with injectable IO
func NewPantryAt(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pantryat",
		Short:   "An offline-first pantry manager",
		Long:    "pantryat tracks pantry items and recipes locally and syncs changes when a connection is available.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyGlobalFlags(cmd, cfg, stderr)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode, _ := cmd.Flags().GetBool("daemon-mode"); mode {
				return runDaemon(cmd.Context(), cfg)
			}
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().Bool("offline", false, "Treat the network as unavailable")
	cmd.PersistentFlags().String("config-path", "", "Path to config file")
	cmd.PersistentFlags().String("db-path", "", "Path to pantry database")
	cmd.Flags().Bool("daemon-mode", false, "Run as background daemon")
	_ = cmd.Flags().MarkHidden("daemon-mode")

	cmd.AddCommand(newItemCmd(stdout, cfg))
	cmd.AddCommand(newCategoryCmd(stdout, cfg))
	cmd.AddCommand(newRecipeCmd(stdout, cfg))
	cmd.AddCommand(newSyncCmd(stdout, cfg))
	cmd.AddCommand(newCacheCmd(stdout, cfg))
	cmd.AddCommand(newStatusCmd(stdout, cfg))
	cmd.AddCommand(newDaemonCmd(stdout, cfg))
	cmd.AddCommand(newCredentialsCmd(stdout, cfg))
	cmd.AddCommand(newNotificationCmd(stdout, cfg))

	return cmd
}

func applyGlobalFlags(cmd *cobra.Command, cfg *Config, stderr io.Writer) {
	if v, _ := cmd.Flags().GetBool("no-prompt"); v {
		cfg.NoPrompt = true
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Verbose = true
	}
	if v, _ := cmd.Flags().GetBool("json"); v {
		cfg.OutputFormat = "json"
	}
	if v, _ := cmd.Flags().GetBool("offline"); v {
		cfg.Offline = true
	}
	if v, _ := cmd.Flags().GetString("config-path"); v != "" {
		cfg.ConfigPath = v
	}
	if v, _ := cmd.Flags().GetString("db-path"); v != "" {
		cfg.DBPath = v
	}
	utils.GetLogger().SetOutput(stderr)
	utils.SetVerboseMode(cfg.Verbose)
}

// app holds the components one command works with. Everything is opened
// per invocation and released by close.
type app struct {
	cfg    *Config
	conf   *config.Config
	log    zerolog.Logger
	stdout io.Writer

	store   *sqlite.Backend
	pantry  backend.PantryManager
	kv      *kvstore.SQLite
	cache   *recordcache.Cache
	network *connectivity.Monitor
	queue   *syncer.Coordinator // nil when sync is disabled
	recipes *recipes.Service
	daemon  *daemon.Client // nil when the daemon is disabled
}

type appOptions struct {
	logger    *zerolog.Logger
	direct    bool // enqueue on the local coordinator even when a daemon runs
	needsSync bool
	onDropped func(syncer.PendingOperation, error)
}

func newApp(ctx context.Context, cfg *Config, stdout io.Writer, opts appOptions) (*app, error) {
	conf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	format := ""
	if cfg.OutputFormat == "json" {
		format = "json"
	}
	conf.ApplyFlags(cfg.NoPrompt, format, cfg.DBPath, cfg.Offline)
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, conf: conf, stdout: stdout, log: utils.GetLogger().Zerolog()}
	if opts.logger != nil {
		a.log = *opts.logger
	}

	a.store, err = sqlite.New(ctx, conf.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening pantry database: %w", err)
	}
	a.pantry = a.store
	a.cache = recordcache.New(conf.GetCachePath(recordcache.DBName), recordcache.WithLogger(a.log))
	a.network = connectivity.NewMonitor(a.connectivitySource(ctx))

	if conf.IsSyncEnabled() {
		if err := a.openSync(ctx, opts); err != nil {
			a.close()
			return nil, err
		}
	} else if opts.needsSync {
		a.close()
		return nil, utils.ErrSyncNotConfigured()
	}

	api := mealdb.New(conf.GetRecipeAPIBase(), cfg.HTTPClient, a.log)
	a.recipes = recipes.New(api, a.cache, a.pantry, a.network, a.log)
	return a, nil
}

// connectivitySource picks the reachability source. In auto mode the sync
// endpoint is probed, or the recipe API when sync is off.
func (a *app) connectivitySource(ctx context.Context) connectivity.Source {
	switch a.conf.GetOfflineMode() {
	case config.OfflineModeOffline:
		return connectivity.NewManualSource(false)
	case config.OfflineModeOnline:
		return connectivity.NewManualSource(true)
	}
	target := a.conf.GetRecipeAPIBase()
	if a.conf.IsSyncEnabled() {
		target = a.conf.Sync.Endpoint
	}
	addr, err := connectivity.ProbeAddress(target)
	if err != nil {
		a.log.Warn().Err(err).Str("endpoint", target).Msg("cannot derive probe address, assuming offline")
		return connectivity.NewManualSource(false)
	}
	return connectivity.NewProbeSource(ctx, addr,
		connectivity.WithProbeInterval(a.conf.GetProbeInterval()),
		connectivity.WithProbeTimeout(a.conf.GetProbeTimeout()))
}

func (a *app) openSync(ctx context.Context, opts appOptions) error {
	token := ""
	info, err := a.credentials().Get(ctx, a.conf.Sync.User)
	if err != nil {
		return err
	}
	if info.Found {
		token = info.Token
	}

	client, err := remote.New(remote.Config{
		BaseURL:    a.conf.Sync.Endpoint,
		Token:      token,
		HTTPClient: a.cfg.HTTPClient,
		MaxRetries: 2,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}

	a.kv, err = kvstore.New(ctx, a.store.DB())
	if err != nil {
		return fmt.Errorf("opening sync queue: %w", err)
	}
	a.queue = syncer.New(ctx, client, a.kv, syncer.Config{
		CallTimeout: a.conf.GetSyncTimeout(),
		OnDropped:   opts.onDropped,
	}, a.log)

	var q syncer.Enqueuer = a.queue
	if a.conf.IsDaemonEnabled() && !opts.direct {
		a.daemon = daemon.NewClient(a.socketPath())
		q = &daemon.Enqueuer{Client: a.daemon, Fallback: a.queue, Logger: a.log}
	}
	a.pantry = syncer.NewTracked(a.store, q)
	return nil
}

func (a *app) credentials() *credentials.Manager {
	if a.cfg.Keyring != nil {
		return credentials.NewManager(credentials.WithKeyring(a.cfg.Keyring))
	}
	return credentials.NewManager()
}

func (a *app) socketPath() string {
	if a.cfg.SocketPath != "" {
		return a.cfg.SocketPath
	}
	return daemon.GetSocketPath()
}

func (a *app) pidPath() string {
	if a.cfg.PIDPath != "" {
		return a.cfg.PIDPath
	}
	return daemon.GetPIDPath()
}

func (a *app) daemonRunning() bool {
	return a.daemon != nil && daemon.IsRunning(a.pidPath(), a.socketPath())
}

// afterMutation pushes queued changes right away when no daemon owns the
// queue and the network is up.
func (a *app) afterMutation(ctx context.Context) {
	if a.queue == nil || a.daemonRunning() || !a.network.Online() {
		return
	}
	res := a.queue.Drain(ctx)
	a.log.Debug().Int("synced", res.Synced).Int("failed", res.Failed).Msg("sync after change")
}

func (a *app) jsonOutput() bool {
	return a.conf.OutputFormat == "json"
}

// done prints the result code in no-prompt text mode.
func (a *app) done(code string) {
	if a.conf.NoPrompt && !a.jsonOutput() {
		_, _ = fmt.Fprintln(a.stdout, code)
	}
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, cfg *Config, stdout io.Writer, fn func(ctx context.Context, a *app) error) error {
	return withAppOptions(cmd, cfg, stdout, appOptions{}, fn)
}

func withAppOptions(cmd *cobra.Command, cfg *Config, stdout io.Writer, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, stdout, opts)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, string(b))
	return nil
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	msg := err.Error()
	var ews *utils.ErrorWithSuggestion
	if errors.As(err, &ews) {
		msg = ews.Err.Error()
	}
	_ = writeJSON(stdout, errorResponse{Error: msg, Code: 1, Result: ResultError})
}

// newCredentialsCmd creates the 'credentials' subcommand for credential management
func newCredentialsCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the sync endpoint token",
		Long:  "Store, inspect and remove the sync endpoint token kept in the system keyring.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	handler := func(cmd *cobra.Command, args []string) (*credentials.CLIHandler, string, error) {
		conf, err := config.Load(cfg.ConfigPath)
		if err != nil {
			return nil, "", err
		}
		user := conf.Sync.User
		if len(args) > 0 {
			user = args[0]
		}
		if user == "" {
			return nil, "", utils.WrapWithSuggestion(errors.New("no sync user given"),
				"Pass the user name or set sync.user in your config file")
		}
		manager := credentials.NewManager()
		if cfg.Keyring != nil {
			manager = credentials.NewManager(credentials.WithKeyring(cfg.Keyring))
		}
		stdin := cfg.Stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		return credentials.NewCLIHandler(manager, stdin, stdout), user, nil
	}

	credentialsCmd.AddCommand(&cobra.Command{
		Use:   "set [user]",
		Short: "Store the token in the system keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, user, err := handler(cmd, args)
			if err != nil {
				return err
			}
			return h.Set(cmd.Context(), user)
		},
	})
	credentialsCmd.AddCommand(&cobra.Command{
		Use:   "get [user]",
		Short: "Show where the token comes from",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, user, err := handler(cmd, args)
			if err != nil {
				return err
			}
			return h.Get(cmd.Context(), user, cfg.OutputFormat == "json")
		},
	})
	credentialsCmd.AddCommand(&cobra.Command{
		Use:   "delete [user]",
		Short: "Remove the token from the system keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, user, err := handler(cmd, args)
			if err != nil {
				return err
			}
			return h.Delete(cmd.Context(), user)
		},
	})
	return credentialsCmd
}
