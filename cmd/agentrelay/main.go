package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuteecarrot/agentrelay/internal/config"
	"github.com/cuteecarrot/agentrelay/internal/eventbus"
	"github.com/cuteecarrot/agentrelay/internal/layout"
	"github.com/cuteecarrot/agentrelay/internal/logstore"
	"github.com/cuteecarrot/agentrelay/internal/presence"
	"github.com/cuteecarrot/agentrelay/internal/recovery"
	"github.com/cuteecarrot/agentrelay/internal/router"
	"github.com/cuteecarrot/agentrelay/internal/session"
	"github.com/cuteecarrot/agentrelay/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("agentrelay %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: agentrelay <command>\n\nCommands:\n  serve      Start the router, event bus, and HTTP surface\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting agentrelay", "version", version, "workspace", cfg.Workspace)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := layout.ForWorkspace(cfg.Workspace)
	if err := l.Ensure(); err != nil {
		return fmt.Errorf("ensure layout: %w", err)
	}

	sess, err := session.InitOrLoad(l, cfg.Workspace, cfg.Roles)
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	slog.Info("session ready", "session_id", sess.SessionID)

	routerCfg := cfg.Router.ToRouterConfig()

	rec, err := recovery.Recover(l, cfg.Workspace, cfg.Roles, routerCfg.AckTimeoutMS, routerCfg.DefaultTTLMS, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("recover workspace state: %w", err)
	}
	slog.Info("recovery complete",
		"epoch", rec.State.Epoch,
		"seq", rec.State.LastSeq,
		"agents", len(rec.Agents),
		"messages", len(rec.Messages),
		"deliveries", len(rec.Delivery),
	)

	if err := logstore.CompactClosedSegments(l, rec.State.Epoch); err != nil {
		slog.Warn("compact closed log segments", "error", err)
	}

	bus, err := eventbus.New(eventbus.Options{
		Port:     cfg.EventBus.Port,
		StoreDir: cfg.EventBus.DataDir,
	})
	if err != nil {
		return fmt.Errorf("init event bus: %w", err)
	}
	defer bus.Close()
	slog.Info("event bus started", "port", bus.Port())

	busClient, err := eventbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init event bus client: %w", err)
	}
	defer busClient.Close()

	presenceReg := presence.New(routerCfg.PresenceIntervalMS, routerCfg.PresenceTimeoutMultiplier)

	rtr := router.New(l, routerCfg, rec, presenceReg, busClient, slog.Default())
	rtr.Start()
	defer rtr.Stop()

	srv := web.NewServer(rtr, busClient, cfg.Web.ListenAddr, version)
	go func() {
		if err := srv.Start(ctx); err != nil {
			slog.Error("web server error", "error", err)
		}
	}()
	slog.Info("web server starting", "addr", cfg.Web.ListenAddr)

	reloadCh := make(chan struct{}, 1)
	go watchConfigFile(ctx, configPath(), reloadCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	currentCfg := cfg
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, reloading config")
			} else {
				slog.Info("shutting down", "signal", sig)
				cancel()
				return nil
			}
		case <-reloadCh:
			slog.Info("config file changed, reloading")
		}

		updated, err := reloadConfig(currentCfg, rtr)
		if err != nil {
			slog.Error("config reload failed", "error", err)
			continue
		}
		currentCfg = updated
	}
}

func configPath() string {
	if p := os.Getenv("AGENTRELAY_CONFIG"); p != "" {
		return p
	}
	return "config/agentrelay.yaml"
}

// watchConfigFile polls the config file mtime every 3s; when it
// changes, computes a SHA-256 hash to confirm actual content change
// before signalling a reload.
func watchConfigFile(ctx context.Context, path string, reloadCh chan<- struct{}) {
	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file, watcher disabled", "path", path, "error", err)
		return
	}
	lastMod := info.ModTime()
	lastHash, err := hashFile(path)
	if err != nil {
		slog.Warn("config watcher: cannot read file, watcher disabled", "path", path, "error", err)
		return
	}
	slog.Info("config watcher started", "path", path)

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			mod := info.ModTime()
			if !mod.After(lastMod) {
				continue
			}
			lastMod = mod

			h, err := hashFile(path)
			if err != nil {
				continue
			}
			if h == lastHash {
				continue
			}
			lastHash = h

			select {
			case reloadCh <- struct{}{}:
			default:
			}
		}
	}
}

func hashFile(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// reloadConfig re-reads config and applies reloadable router knobs in
// place. Workspace, the web bind address, and the event bus port/data
// dir require a restart; changes there are only logged.
func reloadConfig(oldCfg *config.Config, rtr *router.Router) (*config.Config, error) {
	newCfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	diff := config.Diff(oldCfg, newCfg)

	for _, field := range diff.NonReloadable {
		slog.Warn("config field changed but requires restart", "field", field)
	}

	if !diff.HasChanges() {
		slog.Info("config reload: no reloadable changes detected")
		return newCfg, nil
	}

	rtr.UpdateConfig(diff.NewRouter.ToRouterConfig())
	slog.Info("router config updated",
		"ack_timeout_ms", diff.NewRouter.AckTimeoutMS,
		"max_retries", diff.NewRouter.MaxRetries,
	)

	return newCfg, nil
}
