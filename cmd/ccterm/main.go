package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schlunsen/claude-control-terminal-sub001/internal/config"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/coordinator"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/gitinfo"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/journal"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/log"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/metrics"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/presets"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/protocol"
	"github.com/schlunsen/claude-control-terminal-sub001/internal/ws"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCoordinator(os.Args[2:])
			return
		case "replay":
			runReplayCommand(os.Args[2:])
			return
		case "status":
			runStatusCommand(os.Args[2:])
			return
		case "presets":
			runPresetsCommand(os.Args[2:])
			return
		case "version":
			runVersionCommand()
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	// Default: connect and run interactively
	runCoordinator(os.Args[1:])
}

// Version information
const Version = "0.1.0"

func printHelp() {
	fmt.Println(`ccterm - multi-session agent coordinator over one WebSocket

Usage:
  ccterm [command] [options]

Commands:
  run          Connect and run the interactive coordinator (default)
  replay FILE  Rebuild coordinator state from an inbound journal
  status       Show configuration and journal status
  presets      List agent presets
  version      Show version information
  help         Show this help

Options:
  -config string  Path to config file (default "~/.config/ccterm/config.yaml" if present)
  -debug          Enable debug logging (run)
  -json           Output in JSON format (replay, status, presets)
  -remote         Fetch presets from the server API (presets)`)
}

func runVersionCommand() {
	fmt.Printf("ccterm version %s\n", Version)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ccterm", "config.yaml")
}

// loadConfig reads path, or the default location when it exists, or falls
// back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = defaultConfigPath()
		if _, err := os.Stat(path); path == "" || err != nil {
			return config.Default(), nil
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func outputJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func dispatcherOptions(cfg *config.Config) coordinator.Options {
	return coordinator.Options{
		Defaults: protocol.SessionOptions{
			Tools:            cfg.Session.Tools,
			WorkingDirectory: cfg.Session.WorkingDirectory,
			PermissionMode:   cfg.Session.PermissionMode,
			Provider:         cfg.Session.Provider,
			Model:            cfg.Session.Model,
		},
		HistoryPageSize: cfg.Session.HistoryPageSize,
		ContextTimeout:  cfg.Session.ContextRefreshTimeout(),
		TodoClearDelay:  cfg.Session.TodoClearDelay(),
		Logger:          slog.Default(),
	}
}

func runCoordinator(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("%v", err)
	}
	log.Setup(cfg.Logging.File, cfg.Logging.Debug || *debug)
	defer log.RecoverPanic("main", nil)

	if err := run(cfg); err != nil {
		slog.Error("Coordinator error", "error", err)
		fatal("%v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			defer log.RecoverPanic("metrics", nil)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		slog.Info("Serving metrics", "listen", cfg.Metrics.Listen)
	}

	opts := dispatcherOptions(cfg)
	opts.Metrics = m

	if cfg.Storage.JournalEnabled {
		j, err := journal.Open(cfg.Storage.JournalPath(), cfg.Storage.JournalMax)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer j.Close()
		opts.Recorder = j
		slog.Info("Journaling inbound frames", "path", j.Path(), "entries", j.Len())
	}

	client := ws.NewClient(cfg.ControlPlane.WSURL, cfg.ControlPlane.Token, cfg.ControlPlane.ReconnectBackoffMs)
	client.SetLogger(slog.Default().With("component", "ws"))

	catalog := presets.NewCatalog(cfg.Presets.Dir, slog.Default().With("component", "presets"))
	if err := catalog.Load(); err != nil {
		slog.Warn("Failed to load presets", "error", err)
	}
	go func() {
		defer log.RecoverPanic("presets-watch", nil)
		if err := catalog.Watch(ctx); err != nil {
			slog.Warn("Preset watcher stopped", "error", err)
		}
	}()

	sh := newShell(os.Stdout, catalog, presets.NewClient(cfg.Presets.APIURL, cfg.ControlPlane.Token))
	opts.OnChange = sh.onEvent
	d := coordinator.New(client, opts)
	sh.d = d

	client.SetMessageHandler(func(frame []byte) {
		_ = d.HandleFrame(frame)
	})
	client.SetOnDisconnect(d.ConnectionLost)
	client.SetOnConnect(func() {
		if err := d.ListSessions(); err != nil {
			slog.Warn("Failed to list sessions", "error", err)
		}
	})

	slog.Info("Connecting", "url", cfg.ControlPlane.WSURL, "token", log.MaskToken(cfg.ControlPlane.Token))
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to control plane: %w", err)
	}
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		defer log.RecoverPanic("shell", func() { done <- errors.New("shell panicked") })
		done <- sh.Run(ctx, os.Stdin)
	}()

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			return err
		}
	}
	slog.Info("Shutting down...")
	return nil
}

// discardSender accepts every action without a connection. Replay uses it
// so requests issued while rebuilding state do not fail.
type discardSender struct {
	sent int
}

func (s *discardSender) Send(protocol.Action) error {
	s.sent++
	return nil
}

func runReplayCommand(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("%v", err)
	}
	path := fs.Arg(0)
	if path == "" {
		path = cfg.Storage.JournalPath()
	}

	entries, err := journal.ReadFile(path)
	if err != nil {
		fatal("Failed to read journal: %v", err)
	}

	opts := dispatcherOptions(cfg)
	opts.Logger = slog.New(log.NewHandler(os.Stderr, false)).With("component", "replay")
	sender := &discardSender{}
	d := coordinator.New(sender, opts)

	skipped := 0
	for _, e := range entries {
		if err := d.HandleFrame(e.Frame); err != nil {
			skipped++
		}
	}
	st := d.Snapshot()

	if *jsonOutput {
		outputJSON(map[string]any{
			"journal":  path,
			"frames":   len(entries),
			"skipped":  skipped,
			"actions":  sender.sent,
			"snapshot": st,
		})
		return
	}

	fmt.Printf("Replayed %d frames from %s (%d skipped)\n", len(entries), path, skipped)
	fmt.Printf("Sessions: %d\n", len(st.Sessions))
	for _, s := range st.Sessions {
		marker := " "
		if s.ID == st.Focused {
			marker = "*"
		}
		fmt.Printf("%s %s  %-10s messages=%d tools=%d pending=%d cost=$%.4f\n",
			marker, s.ID, s.Status, len(s.Messages), len(s.Tools), len(s.Pending), s.CostUSD)
	}
	for _, n := range st.Notices {
		fmt.Printf("notice: %s\n", n.Text)
	}
}

func runStatusCommand(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if *jsonOutput {
			outputJSON(map[string]any{"error": err.Error()})
		} else {
			fatal("%v", err)
		}
		return
	}

	journalEntries := -1
	if entries, err := journal.ReadFile(cfg.Storage.JournalPath()); err == nil {
		journalEntries = len(entries)
	}
	catalog := presets.NewCatalog(cfg.Presets.Dir, slog.New(log.NewHandler(os.Stderr, false)))
	presetErr := catalog.Load()

	status := map[string]any{
		"version":         Version,
		"control_plane":   cfg.ControlPlane.WSURL,
		"token":           log.MaskToken(cfg.ControlPlane.Token),
		"api_url":         cfg.Presets.APIURL,
		"state_dir":       cfg.Storage.StateDir,
		"journal_enabled": cfg.Storage.JournalEnabled,
		"journal_entries": journalEntries,
		"presets_dir":     cfg.Presets.Dir,
		"preset_count":    catalog.Len(),
		"metrics_listen":  cfg.Metrics.Listen,
	}
	if presetErr != nil {
		status["presets_error"] = presetErr.Error()
	}
	cwd, _ := os.Getwd()
	repo := gitinfo.Resolve(context.Background(), cwd)
	if repo != nil {
		status["repository"] = repo
	}

	if *jsonOutput {
		outputJSON(status)
		return
	}
	fmt.Printf("Coordinator Status\n")
	fmt.Printf("==================\n")
	fmt.Printf("Version:        %s\n", Version)
	fmt.Printf("Control Plane:  %s\n", cfg.ControlPlane.WSURL)
	fmt.Printf("Token:          %s\n", log.MaskToken(cfg.ControlPlane.Token))
	fmt.Printf("API URL:        %s\n", cfg.Presets.APIURL)
	fmt.Printf("State Dir:      %s\n", cfg.Storage.StateDir)
	fmt.Printf("Journal:        %v", cfg.Storage.JournalEnabled)
	if journalEntries >= 0 {
		fmt.Printf(" (%d entries)", journalEntries)
	}
	fmt.Println()
	fmt.Printf("Presets Dir:    %s (%d presets)\n", cfg.Presets.Dir, catalog.Len())
	if cfg.Metrics.Listen != "" {
		fmt.Printf("Metrics:        %s/metrics\n", cfg.Metrics.Listen)
	}
	if repo != nil {
		dirty := ""
		if repo.Status.Dirty() {
			dirty = " (dirty)"
		}
		fmt.Printf("Repository:     %s on %s%s\n", repo.RepoRoot, repo.Branch, dirty)
	}
}

func runPresetsCommand(args []string) {
	fs := flag.NewFlagSet("presets", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	remote := fs.Bool("remote", false, "Fetch presets from the server API")
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("%v", err)
	}

	var list []presets.Preset
	if *remote {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		list, err = presets.NewClient(cfg.Presets.APIURL, cfg.ControlPlane.Token).ListAgents(ctx)
		if err != nil {
			fatal("Failed to fetch presets: %v", err)
		}
	} else {
		catalog := presets.NewCatalog(cfg.Presets.Dir, slog.New(log.NewHandler(os.Stderr, false)))
		if err := catalog.Load(); err != nil {
			fatal("Failed to load presets: %v", err)
		}
		list = catalog.List()
	}

	if *jsonOutput {
		outputJSON(map[string]any{"presets": list, "count": len(list)})
		return
	}
	if len(list) == 0 {
		fmt.Println("No presets found")
		return
	}
	for _, p := range list {
		fmt.Printf("%-24s %-8s %s\n", p.Name, p.Model, p.Description)
	}
}
