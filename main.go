// relay - synchronized command history for a terminal chat assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/relay-tui/internal/audit"
	"github.com/jeranaias/relay-tui/internal/auth"
	"github.com/jeranaias/relay-tui/internal/config"
	"github.com/jeranaias/relay-tui/internal/history"
	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/remote"
	"github.com/jeranaias/relay-tui/internal/scope"
	"github.com/jeranaias/relay-tui/internal/storage"
	"github.com/jeranaias/relay-tui/internal/syncer"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("relay %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cache, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	defer cache.Close()

	machine, err := auth.LoadMachine(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("load machine identity: %w", err)
	}

	var client *remote.Client
	if cfg.Sync.Enabled() {
		client, err = remote.NewClient(cfg.Sync.RemoteURL, cfg.Sync.RemoteToken)
		if err != nil {
			return fmt.Errorf("remote client: %w", err)
		}
	}

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog, err = audit.NewLogger(cfg.AuditLogPath())
		if err != nil {
			// The trail is best-effort; a broken log file must not keep
			// the assistant from starting.
			log.Printf("audit log unavailable: %v", err)
		}
	}
	defer auditLog.Close()

	authn := auth.New(client, cache, machine, cfg.Sync.ConnectTimeout())
	session, err := authn.Authenticate(context.Background(), cfg.Sync.Username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return fmt.Errorf("identity %q: %w", cfg.Sync.Username, err)
		}
		return fmt.Errorf("authenticate: %w", err)
	}

	router := scope.NewRouter(session, machine.ID)
	worker := syncer.New(cache, client, session, auditLog, cfg.Sync)
	worker.Start()
	defer worker.Stop()

	// A config edit (new remote, new token) is the usual reason sync starts
	// working again; kick a cycle when the file changes.
	if path, cerr := config.ConfigPathTOML(); cerr == nil {
		if watcher, werr := config.NewWatcher(path, 500*time.Millisecond, worker.Trigger); werr == nil {
			defer watcher.Close()
		}
	}

	svc := history.NewService(cache, router, worker)

	printWelcome(session, machine)
	return repl(svc, session)
}

func printWelcome(session auth.Result, machine model.Machine) {
	fmt.Printf("relay %s — machine %s\n", Version, machine.ID)
	switch session.Mode {
	case auth.ModeValidated:
		fmt.Printf("Signed in as %s. All scopes available.\n", session.User.Username)
	case auth.ModeConnected:
		fmt.Println("Connected without identity. User scope unavailable.")
	default:
		fmt.Println("Offline. History is recorded locally and syncs when a remote store is reachable.")
	}
	fmt.Println("Type a command to record it, /help for commands.")
}

// =============================================================================
// REPL
// =============================================================================

// defaultScope picks where plain input lands: user history for a validated
// session, this machine's history otherwise.
func defaultScope(session auth.Result) model.Scope {
	if session.Mode == auth.ModeValidated {
		return model.ScopeUser
	}
	return model.ScopeMachine
}

func repl(svc *history.Service, session auth.Result) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := inputHistoryPath()
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer saveInputHistory(line, historyFile)

	writeScope := defaultScope(session)

	for {
		input, err := line.Prompt("relay> ")
		if err != nil {
			// Ctrl+C or Ctrl+D: exit gracefully either way.
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			cont, err := handleCommand(input, svc, &writeScope)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if !cont {
				return nil
			}
			continue
		}

		rec, err := svc.Submit(input, writeScope)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Printf("recorded %s (%s)\n", rec.UUID, rec.Scope)
	}
}

func handleCommand(input string, svc *history.Service, writeScope *model.Scope) (bool, error) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return false, nil

	case "/help", "/h":
		printHelp()
		return true, nil

	case "/history":
		return true, showHistory(svc, args)

	case "/machines":
		return true, showMachines(svc)

	case "/status", "/s":
		return true, showStatus(svc)

	case "/sync":
		svc.SyncNow()
		fmt.Println("sync requested")
		return true, nil

	case "/retry":
		n, err := svc.RetryFailed()
		if err != nil {
			return true, err
		}
		fmt.Printf("revived %d failed entries\n", n)
		return true, nil

	case "/respond":
		if len(args) < 2 {
			return true, errors.New("usage: /respond <uuid> <text>")
		}
		rec, err := svc.AttachResponse(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return true, err
		}
		fmt.Printf("answered %s\n", rec.UUID)
		return true, nil

	case "/cancel":
		if len(args) != 1 {
			return true, errors.New("usage: /cancel <uuid>")
		}
		rec, err := svc.Cancel(args[0])
		if err != nil {
			return true, err
		}
		fmt.Printf("cancelled %s\n", rec.UUID)
		return true, nil

	case "/scope":
		if len(args) == 0 {
			fmt.Printf("write scope: %s\n", *writeScope)
			return true, nil
		}
		s, err := model.ParseScope(args[0])
		if err != nil {
			return true, err
		}
		*writeScope = s
		fmt.Printf("write scope: %s\n", s)
		return true, nil

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// showHistory handles "/history [scope] [substring]".
func showHistory(svc *history.Service, args []string) error {
	sc := model.ScopeHybrid
	filter := storage.Filter{Limit: 50}

	if len(args) > 0 {
		if parsed, err := model.ParseScope(args[0]); err == nil {
			sc = parsed
			args = args[1:]
		}
	}
	if len(args) > 0 {
		filter.Contains = strings.Join(args, " ")
	}

	records, err := svc.Query(sc, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no history")
		return nil
	}
	for _, rec := range records {
		printRecord(rec)
	}
	return nil
}

func printRecord(rec *model.HistoryRecord) {
	fmt.Printf("%s  [%s/%s/%s]  %s\n",
		rec.CreatedAt.Format("2006-01-02 15:04:05"),
		rec.Scope, rec.Status, rec.SyncStatus, rec.Command)
	if rec.Response != "" {
		fmt.Printf("    ↳ %s\n", rec.Response)
	}
}

func showMachines(svc *history.Service) error {
	machines, err := svc.Machines()
	if err != nil {
		return err
	}
	if len(machines) == 0 {
		fmt.Println("no machines known yet")
		return nil
	}
	for _, m := range machines {
		fmt.Printf("%s  %-20s  last seen %s\n",
			m.ID, m.Hostname, m.LastSeen.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showStatus(svc *history.Service) error {
	st, err := svc.SyncStatus()
	if err != nil {
		return err
	}

	mode := "offline"
	if st.Online {
		mode = "online"
	}
	fmt.Printf("sync: %s, %d pending, %d dead letters\n", mode, st.Pending, st.DeadLetters)
	if !st.LastSyncAt.IsZero() {
		fmt.Printf("last sync: %s\n", st.LastSyncAt.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Printf("last error: %s\n", st.LastError)
	}
	return nil
}

func printHelp() {
	fmt.Println(`Commands:
  /history [scope] [substring]   Show history (default: hybrid view, last 50)
  /machines                      List machines this history has been seen on
  /status                        Show sync status
  /sync                          Request a sync cycle now
  /retry                         Revive dead-lettered queue entries
  /respond <uuid> <text>         Attach a response to a pending record
  /cancel <uuid>                 Cancel a pending record
  /scope [global|user|machine|local]
                                 Show or set the write scope
  /quit                          Exit`)
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

func inputHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "input_history")
}

func saveInputHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
