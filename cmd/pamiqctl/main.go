package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"pamiq/internal/databuffer"
	"pamiq/internal/demo"
	"pamiq/internal/trigger"
	"pamiq/pkg/pamiq"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "status", "pause", "resume", "shutdown", "save_state", "save-state":
		return runControlCommand(ctx, args[0], args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: pamiqctl <serve|status|pause|resume|shutdown|save-state> [flags]", msg)
}

// runServe boots a Runtime wired to the demo XOR agent/environment/
// trainer and serves the control surface and metrics endpoint until
// interrupted.
func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	rt, err := pamiq.New(pamiq.Options{
		StateRoot:           cfg.StateRoot,
		MaxKeepStates:       cfg.MaxKeepStates,
		MaxUptime:           time.Duration(cfg.MaxUptimeSeconds * float64(time.Second)),
		SaveIntervalSeconds: cfg.SaveIntervalSeconds,
		StoreKind:           cfg.StoreKind,
		DBPath:              cfg.DBPath,
		Logger:              log,
	})
	if err != nil {
		return fmt.Errorf("new runtime: %w", err)
	}

	entry, err := rt.Models().Register("policy", demo.NewWeights(1), demo.NewWeights(1), true)
	if err != nil {
		return fmt.Errorf("register model: %w", err)
	}
	buf, err := rt.RegisterBuffer("experience", []string{"x0", "x1", "target", "prediction"}, 256, databuffer.Queue, 1)
	if err != nil {
		return fmt.Errorf("register buffer: %w", err)
	}

	if cfg.ResumeFrom != "" {
		if _, err := rt.LoadState(cfg.ResumeFrom); err != nil {
			return fmt.Errorf("load state %q: %w", cfg.ResumeFrom, err)
		}
		log.Info("pamiq: restored state", zap.String("path", cfg.ResumeFrom))
	} else if _, ok, err := rt.LoadLatestState(); err != nil {
		return fmt.Errorf("load latest state: %w", err)
	} else if ok {
		log.Info("pamiq: restored latest state")
	}

	if err := rt.SpawnInteraction("interaction", demo.NewEnvironment(), demo.NewAgent(entry, buf), cfg.TickInterval); err != nil {
		return fmt.Errorf("spawn interaction: %w", err)
	}
	if err := rt.SpawnTrainer("trainer", demo.NewTrainer(entry, buf, cfg.LearningRate), trigger.NewStepCount(cfg.TrainEvery)); err != nil {
		return fmt.Errorf("spawn trainer: %w", err)
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/control", rt.ControlHandler())
	mux.Handle("/metrics", rt.MetricsHandler())
	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("pamiq: http server", zap.Error(err))
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now()
	fmt.Printf("pamiqctl serve: listening on %s\n", cfg.Addr)

	var fatal error
	select {
	case <-sigCtx.Done():
		fmt.Printf("pamiqctl serve: shutting down after %s\n", humanize.RelTime(startedAt, time.Now(), "", ""))
	case <-rt.Done():
		fatal = fmt.Errorf("pamiqctl serve: fatal thread error: %w", rt.FatalError())
		fmt.Fprintln(os.Stderr, fatal)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	stuck := rt.Shutdown(5 * time.Second)
	if len(stuck) != 0 {
		return fmt.Errorf("threads still running past grace period: %v", stuck)
	}
	return fatal
}

// runControlCommand sends a single line-protocol command to a running
// server's control surface and prints the JSON response.
func runControlCommand(ctx context.Context, verb string, args []string) error {
	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	addr := fs.String("addr", "ws://127.0.0.1:7766/control", "control surface websocket address")
	statePath := fs.String("path", "", "optional state directory override (save_state only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	line := verb
	if (verb == "save_state" || verb == "save-state") && *statePath != "" {
		line = "save_state " + *statePath
	} else if verb == "save-state" {
		line = "save_state"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial control surface: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("send command: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	printResponse(data)
	return nil
}

// printResponse renders the control surface's JSON response: pretty
// key/value lines on an interactive terminal, raw JSON otherwise (for
// scripting/piping).
func printResponse(data []byte) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(string(data))
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		fmt.Println(string(data))
		return
	}
	for _, key := range []string{"state", "status", "fatal_error", "state_path", "stuck_threads", "error"} {
		if v, ok := fields[key]; ok && v != "" && v != nil {
			fmt.Printf("%-14s %v\n", key+":", v)
		}
	}
}
