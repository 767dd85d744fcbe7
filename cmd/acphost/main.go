package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/tailored-agentic-units/acphost/core/acp"
	"github.com/tailored-agentic-units/acphost/engine"
	"github.com/tailored-agentic-units/acphost/session"
	"github.com/tailored-agentic-units/acphost/store"
	"github.com/tailored-agentic-units/acphost/transport"
)

func main() {
	var (
		agentCmd   = flag.String("agent", "", "Agent command line to spawn (required unless -list)")
		projectDir = flag.String("dir", ".", "Project directory the session works in")
		prompt     = flag.String("prompt", "", "Prompt to send (required unless -list)")
		sessionID  = flag.String("session", "", "Resume an existing session id instead of creating one")
		dbPath     = flag.String("db", "", "SQLite entry log path (omit to disable persistence)")
		configFile = flag.String("config", "", "Path to engine config JSON file")
		modeID     = flag.String("mode", "", "Switch the session to this mode before prompting")
		list       = flag.Bool("list", false, "List stored sessions and exit (requires -db)")
		autoAllow  = flag.Bool("auto-allow", false, "Answer permission requests with the first allow option")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *list {
		if *dbPath == "" {
			fmt.Fprintln(os.Stderr, "Usage: acphost -list -db <file>")
			os.Exit(1)
		}
		listSessions(*dbPath, logger)
		return
	}

	if *agentCmd == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: acphost -agent <command> -prompt <text>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg := engine.DefaultConfig()
	if *configFile != "" {
		loaded, err := engine.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	var entryStore *store.Store
	if *dbPath != "" {
		var err error
		entryStore, err = store.Open(store.Config{Path: *dbPath, Logger: logger})
		if err != nil {
			log.Fatalf("Failed to open entry store: %v", err)
		}
		defer entryStore.Close()
	}

	// The transport needs a handler before the engine exists and the
	// engine needs the transport as its agent; the proxy breaks the cycle.
	proxy := &handlerProxy{}

	parts := strings.Fields(*agentCmd)
	proc, err := transport.Spawn(parts[0], parts[1:], proxy, transport.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to spawn agent: %v", err)
	}
	defer proc.Close()

	opts := []engine.Option{engine.WithLogger(logger)}
	if entryStore != nil {
		opts = append(opts, engine.WithStore(entryStore))
	}
	eng, err := engine.New(proc, &cfg, opts...)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	proxy.set(eng)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := eng.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect to agent: %v", err)
	}

	sess, err := openSession(ctx, eng, entryStore, *sessionID, *projectDir)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	logger.Info("session ready", slog.String("session_id", sess.ID()))

	if *modeID != "" {
		if err := eng.SetMode(ctx, sess.ID(), *modeID); err != nil {
			log.Fatalf("Failed to set mode: %v", err)
		}
	}

	if *autoAllow {
		go autoAllowLoop(ctx, eng, sess)
	}

	done, err := eng.SendPrompt(ctx, sess.ID(), *prompt)
	if err != nil {
		log.Fatalf("Failed to send prompt: %v", err)
	}

	select {
	case result := <-done:
		if result.Err != nil {
			log.Fatalf("Prompt failed: %v", result.Err)
		}
		logger.Info("turn complete", slog.String("stop_reason", result.StopReason))
	case <-ctx.Done():
		_ = eng.Cancel(context.Background(), sess.ID())
		<-done
	}

	printTranscript(os.Stdout, sess)
}

// handlerProxy forwards transport callbacks to the engine once it exists.
// Agents do not send anything before initialize, so the window where the
// target is unset carries no traffic.
type handlerProxy struct {
	mu  sync.Mutex
	eng *engine.Engine
}

func (p *handlerProxy) set(e *engine.Engine) {
	p.mu.Lock()
	p.eng = e
	p.mu.Unlock()
}

func (p *handlerProxy) target() *engine.Engine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eng
}

func (p *handlerProxy) HandleNotification(ctx context.Context, raw []byte) error {
	if e := p.target(); e != nil {
		return e.HandleNotification(ctx, raw)
	}
	return nil
}

func (p *handlerProxy) HandlePermissionRequest(ctx context.Context, requestID string, req acp.RequestPermissionRequest, reply engine.PermissionReply) error {
	if e := p.target(); e != nil {
		return e.HandlePermissionRequest(ctx, requestID, req, reply)
	}
	return fmt.Errorf("engine not ready")
}

// openSession resumes the requested session (restoring its stored log
// first, when a store is configured) or creates a fresh one.
func openSession(ctx context.Context, eng *engine.Engine, entryStore *store.Store, sessionID, projectDir string) (*session.Session, error) {
	if sessionID == "" {
		sess, err := eng.NewSession(ctx, projectDir)
		if err != nil {
			return nil, err
		}
		if entryStore != nil {
			if err := entryStore.PutSession(ctx, sess.ID(), projectDir, sess.CreatedAt()); err != nil {
				return nil, err
			}
		}
		return sess, nil
	}

	if entryStore != nil {
		records, err := entryStore.LoadSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			entries := make([]session.Entry, 0, len(records))
			for _, rec := range records {
				entry, err := session.DecodeRecord(rec)
				if err != nil {
					return nil, err
				}
				entries = append(entries, entry)
			}
			if _, err := eng.Registry().Restore(sessionID, projectDir, entries); err != nil {
				return nil, err
			}
		}
	}
	return eng.ResumeSession(ctx, sessionID, projectDir)
}

// autoAllowLoop watches the session and answers each pending permission
// request with its first allow option, or the first option at all when
// none is an allow.
func autoAllowLoop(ctx context.Context, eng *engine.Engine, sess *session.Session) {
	ch := sess.Watch()
	defer sess.Unwatch(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}

		pending := sess.PendingPermission()
		if pending == nil {
			continue
		}

		optionID := ""
		for _, opt := range pending.Options {
			if opt.Kind == acp.PermissionAllowOnce || opt.Kind == acp.PermissionAllowAlways {
				optionID = opt.OptionID
				break
			}
		}
		if optionID == "" && len(pending.Options) > 0 {
			optionID = pending.Options[0].OptionID
		}
		if optionID == "" {
			continue
		}
		if err := eng.RespondPermission(ctx, sess.ID(), pending.RequestID, optionID); err != nil {
			slog.Default().Warn("auto-allow failed", slog.String("error", err.Error()))
		}
	}
}

func listSessions(dbPath string, logger *slog.Logger) {
	entryStore, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	if err != nil {
		log.Fatalf("Failed to open entry store: %v", err)
	}
	defer entryStore.Close()

	infos, err := entryStore.ListSessions(context.Background())
	if err != nil {
		log.Fatalf("Failed to list sessions: %v", err)
	}
	for _, info := range infos {
		fmt.Printf("%s  %s  %d entries  %s\n",
			info.SessionID, info.CreatedAt.Format("2006-01-02 15:04"), info.Entries, info.ProjectDir)
	}
}

func printTranscript(w io.Writer, sess *session.Session) {
	for _, entry := range sess.Entries() {
		switch e := entry.(type) {
		case *session.MessageEntry:
			fmt.Fprintf(w, "[%s] %s\n", e.Role, e.Text)
		case *session.ThoughtEntry:
			fmt.Fprintf(w, "[thought] %s\n", e.Text)
		case *session.ToolCallEntry:
			fmt.Fprintf(w, "[tool %s] %s (%s)\n", e.ToolName, e.Title, e.Status)
			if out := string(e.Output); out != "" {
				if len(out) > 200 {
					out = out[:200] + "..."
				}
				fmt.Fprintf(w, "  -> %s\n", out)
			}
		case *session.PermissionEntry:
			answer := "unanswered"
			if e.Answered() {
				answer = e.ResponseOption
			}
			fmt.Fprintf(w, "[permission] %s: %s\n", e.Description, answer)
		case *session.PlanEntry:
			fmt.Fprintf(w, "[plan] %d items\n", len(e.Items))
			for _, item := range e.Items {
				fmt.Fprintf(w, "  - (%s) %s\n", item.Status, item.Content)
			}
		case *session.ModeChangeEntry:
			fmt.Fprintf(w, "[mode] %s -> %s\n", e.PreviousModeID, e.NewModeID)
		case *session.MetaEntry:
			fmt.Fprintf(w, "[meta] mode=%s model=%s\n", e.CurrentModeID, e.CurrentModelID)
		}
	}
}
