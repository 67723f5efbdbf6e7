package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/talbotapp/talbot/internal/api"
	"github.com/talbotapp/talbot/internal/chat"
	"github.com/talbotapp/talbot/internal/composer"
	"github.com/talbotapp/talbot/internal/config"
	"github.com/talbotapp/talbot/internal/conversation"
	"github.com/talbotapp/talbot/internal/docs"
	"github.com/talbotapp/talbot/internal/personalize"
	"github.com/talbotapp/talbot/internal/profile"
	"github.com/talbotapp/talbot/internal/proxy"
	"github.com/talbotapp/talbot/internal/responder"
	"github.com/talbotapp/talbot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the talbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running talbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show talbot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

// buildUpstream picks the model provider behind the relay. It returns a nil
// interface when no provider is usable so the relay answers with fallbacks.
func buildUpstream(cfg config.Config) proxy.Upstream {
	switch strings.ToLower(cfg.Upstream.Provider) {
	case "ollama":
		return proxy.NewOllamaClient(cfg.Upstream.BaseURL, cfg.Upstream.Model)
	case "anthropic", "":
		if cfg.Upstream.APIKey == "" {
			slog.Warn("no upstream API key; the relay will answer with fallback replies", "hint", config.APIKeyHint())
			return nil
		}
		if cfg.Upstream.BaseURL != "" {
			return proxy.NewClientWithBaseURL(cfg.Upstream.APIKey, cfg.Upstream.BaseURL)
		}
		return proxy.NewClient(cfg.Upstream.APIKey)
	default:
		slog.Warn("unknown upstream provider; the relay will answer with fallback replies", "provider", cfg.Upstream.Provider)
		return nil
	}
}

// buildRemote returns the selector's remote response service, or nil when
// remote responses are disabled.
func buildRemote(cfg config.Config) responder.Remote {
	if !cfg.Remote.Enabled || cfg.Remote.URL == "" {
		return nil
	}
	return proxy.NewRelayClient(cfg.Remote.URL, "")
}

func loadRules(path string) *responder.RuleSet {
	if path == "" {
		return responder.DefaultRules()
	}
	rs, err := responder.LoadRules(path)
	if err != nil {
		slog.Warn("could not load rules file, using built-in rules", "path", path, "error", err)
		return responder.DefaultRules()
	}
	return rs
}

// services is the wired application behind the HTTP and MCP surfaces.
type services struct {
	selector *responder.Selector
	chat     *chat.Orchestrator
	profile  *profile.Manager
	log      *conversation.Log
	intake   *docs.Intake
	worker   *docs.Worker
	upstream proxy.Upstream
	handler  http.Handler
}

func buildServices(cfg config.Config, store *storage.Store, rnd responder.Float64Rand) *services {
	sel := responder.NewSelector(loadRules(cfg.Rules.Path), rnd, buildRemote(cfg), cfg.RemoteTimeout())
	profileMgr := profile.NewManager(store)

	convLog := conversation.NewLog(store, cfg.Conversation.Window)
	restored := convLog.Restore()
	slog.Info("conversation restored", "messages", len(restored))

	orch := chat.New(chat.Deps{
		Selector:     sel,
		Analyzer:     sel,
		Personalizer: personalize.New(rnd, cfg.Personalize.NameProbability),
		Log:          convLog,
		Profile:      profileMgr,
		OnStatus: func(s chat.State, err error) {
			if err != nil {
				slog.Error("turn failed", "state", s, "error", err)
				return
			}
			slog.Debug("chat state", "state", s)
		},
	})

	intake := docs.NewIntake(store, profileMgr)
	upstream := buildUpstream(cfg)

	appHandler := api.NewAppHandler(api.AppDeps{
		Chat:       orch,
		Profile:    profileMgr,
		Log:        convLog,
		Documents:  intake,
		CORSOrigin: cfg.Server.CORSOrigin,
	})
	relayHandler := api.NewRelayHandler(api.RelayDeps{
		Upstream:   upstream,
		Composer:   composer.New(0, cfg.Upstream.Model, cfg.Upstream.MaxTokens),
		Limiter:    rate.NewLimiter(rate.Limit(cfg.Chat.RateLimit), cfg.Chat.RateBurst),
		Rand:       rnd,
		CORSOrigin: cfg.Server.CORSOrigin,
	})

	// The relay lives at /chat so the default remote URL points back at this
	// server; everything else is the companion API.
	top := chi.NewRouter()
	top.Handle("/chat", relayHandler)
	top.Mount("/", appHandler)

	return &services{
		selector: sel,
		chat:     orch,
		profile:  profileMgr,
		log:      convLog,
		intake:   intake,
		worker:   docs.NewWorker(store, profileMgr, 500*time.Millisecond),
		upstream: upstream,
		handler:  top,
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "talbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	pid := newPIDFile(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if owner, alive := pid.owner(); alive {
			return fmt.Errorf("server already running (PID %d)", owner)
		}
		return fmt.Errorf("port %d is already in use", cfg.Server.Port)
	}
	if err := pid.acquire(); err != nil {
		return err
	}
	defer pid.release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	svc := buildServices(cfg, store, responder.NewRand(time.Now().UnixNano()))
	if p, ok := svc.upstream.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			slog.Warn("upstream not ready; the relay will answer with fallback replies until it is", "error", err)
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("talbot listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		svc.worker.Run(gctx)
		return nil
	})

	if cfg.Rules.Path != "" {
		g.Go(func() error {
			if err := responder.WatchRules(gctx, cfg.Rules.Path, svc.selector, 0); err != nil {
				slog.Warn("rules hot reload disabled", "error", err)
			}
			return nil
		})
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Chat: svc.chat, Profile: svc.profile, Version: version})
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pf := newPIDFile(cfg.Storage.DataDir)
	pid, alive := pf.owner()
	if !alive {
		// Drop a stale file so the next start is not confused by it.
		os.Remove(string(pf))
		return errors.New("talbot is not running")
	}

	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(syscall.SIGTERM)
	}
	if err != nil {
		return fmt.Errorf("could not stop talbot (PID %d): %w", pid, err)
	}
	printSuccess("Sent stop signal to talbot (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var state api.StateResponse
	if err := client.call(ctx, http.MethodGet, "/state", nil, &state); err != nil {
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Chat", "%s", state.State)
		printStatus("Messages", "%d", state.Messages)
	}

	upstream := cfg.Upstream.Provider
	if strings.EqualFold(upstream, "anthropic") && cfg.Upstream.APIKey == "" {
		upstream += " (no API key, fallback replies only)"
	}
	printStatus("Upstream", "%s", upstream)
	if cfg.Remote.Enabled {
		printStatus("Remote", "%s (timeout %s)", cfg.Remote.URL, cfg.RemoteTimeout())
	} else {
		printStatus("Remote", "disabled")
	}
	if cfg.Rules.Path != "" {
		printStatus("Rules", "%s", cfg.Rules.Path)
	} else {
		printStatus("Rules", "built-in")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
