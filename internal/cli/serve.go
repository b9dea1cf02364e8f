package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/courier/internal/agent"
	"github.com/soyeahso/courier/internal/assembler"
	"github.com/soyeahso/courier/internal/backend"
	"github.com/soyeahso/courier/internal/classifier"
	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/gateway"
	"github.com/soyeahso/courier/internal/hooks"
	"github.com/soyeahso/courier/internal/llm"
	"github.com/soyeahso/courier/internal/logging"
	"github.com/soyeahso/courier/internal/orchestrator"
	"github.com/soyeahso/courier/internal/persist"
	"github.com/soyeahso/courier/internal/store"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if cfg.Logging.File != "" || cfg.Logging.ConsoleStyle == "json" {
				root, closer, err := logging.NewWithOptions(logging.Options{
					Level: cfg.Logging.Level,
					Style: cfg.Logging.ConsoleStyle,
					File:  cfg.Logging.File,
				})
				if err != nil {
					return err
				}
				defer closer.Close()
				log = root
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, cfg, paths, log)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				st.Close(closeCtx)
			}()

			return st.server.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

// stack is the wired server plus everything that must be released on exit.
type stack struct {
	server  *gateway.Server
	orch    *orchestrator.Orchestrator
	agents  *agent.Registry
	sink    *persist.Sink
	hooks   *hooks.Manager
	history store.Backend
	db      *store.DB
	log     *logging.Logger
}

// buildStack wires storage, generation, backends, agents and transport
// from cfg.
func buildStack(ctx context.Context, cfg config.Config, p config.Paths, log *logging.Logger) (*stack, error) {
	st := &stack{log: log}

	st.hooks = hooks.NewManager(log)
	if n := hooks.RegisterCommands(st.hooks, cfg.Hooks); n > 0 {
		log.Info().Int("count", n).Msg("command hooks registered")
	}

	driver := cfg.History.Driver
	if driver == "" || driver == "sqlite" || cfg.Knowledge.Enabled {
		dbPath := cfg.History.Path
		if dbPath == "" {
			dbPath = p.Database
		}
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		st.db = db
	}

	history, err := store.OpenHistory(ctx, cfg.History, st.db, log)
	if err != nil {
		st.closeDB()
		return nil, fmt.Errorf("opening history: %w", err)
	}
	st.history = history
	log.Info().Str("driver", orDefault(driver, "sqlite")).Msg("history store ready")

	st.sink = persist.NewSink(history, persist.Options{
		WriteTimeout: cfg.History.WriteTimeout,
		QueueWarn:    cfg.History.QueueSize,
		Hooks:        st.hooks,
	}, log)

	var client llm.Client
	if c, err := llm.NewClientFromConfig(cfg.Models, log); err == nil {
		client = c
	} else if errors.Is(err, llm.ErrNoProviders) {
		log.Warn().Msg("no model providers configured, agents answer from templates only")
	} else {
		st.Close(ctx)
		return nil, err
	}

	var knowledge agent.KnowledgeSearcher
	if cfg.Knowledge.Enabled && st.db != nil {
		ks := store.NewKnowledgeStore(st.db)
		if err := seedKnowledge(ctx, ks, cfg.Knowledge.Source, log); err != nil {
			log.Warn().Err(err).Str("source", cfg.Knowledge.Source).Msg("knowledge import failed")
		}
		knowledge = ks
	}

	tracking := agent.NewTrackingAgent(
		backend.NewSMSATracker(cfg.Backends.Tracking, log),
		agent.GenerationFor(client, cfg.Agents, domain.AgentTracking),
		cfg.Backends.Tracking.Timeout, log)
	rates := agent.NewRatesAgent(
		backend.NewRatesClient(cfg.Backends.Rates, log),
		agent.GenerationFor(client, cfg.Agents, domain.AgentRates),
		cfg.Backends.Rates.Country, cfg.Backends.Rates.Timeout, log)
	retail := agent.NewRetailAgent(
		backend.NewRetailClient(cfg.Backends.Retail, log),
		agent.GenerationFor(client, cfg.Agents, domain.AgentRetail),
		cfg.Backends.Retail.Timeout, log)
	faq := agent.NewFAQAgent(knowledge, cfg.Knowledge.MaxChunks,
		agent.GenerationFor(client, cfg.Agents, domain.AgentFAQ), log)

	st.agents, err = agent.NewRegistry(map[domain.Intent]agent.Agent{
		domain.IntentTracking:  tracking,
		domain.IntentRates:     rates,
		domain.IntentLocations: retail,
		domain.IntentFAQ:       faq,
	})
	if err != nil {
		st.Close(ctx)
		return nil, err
	}

	var clsOpts []classifier.Option
	if client != nil && cfg.Orchestrator.LLMClassifier {
		clsOpts = append(clsOpts, classifier.WithFallback(
			classifier.NewLLMFallback(client, cfg.Orchestrator.ClassifierModel),
			cfg.Orchestrator.ClassifierTimeout))
	}
	cls := classifier.New(log, clsOpts...)
	asm := assembler.New(st.sink, history, cfg.History.Limit, log)

	st.orch = orchestrator.New(cls, asm, st.agents, st.sink, orchestrator.Options{
		Timeout: cfg.Orchestrator.Timeout,
		Hooks:   st.hooks,
	}, log)

	opts := []gateway.ServerOption{
		gateway.WithHistory(st.sink, store.DefaultHistoryLimit*4),
		gateway.WithAttachments(history),
		gateway.WithAgents(st.agents.Names()),
		gateway.WithHooks(st.hooks),
	}
	if cfg.History.RecordUserMessages {
		opts = append(opts, gateway.WithRecorder(st.sink))
	}
	st.server = gateway.New(cfg.Server, st.orch, log, opts...)
	return st, nil
}

// seedKnowledge imports source into an empty knowledge base.
func seedKnowledge(ctx context.Context, ks *store.KnowledgeStore, source string, log *logging.Logger) error {
	if source == "" {
		return nil
	}
	n, err := ks.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	f, err := os.Open(source)
	if err != nil {
		return err
	}
	defer f.Close()
	imported, err := ks.ImportJSONL(ctx, f)
	log.Info().Int("chunks", imported).Str("source", source).Msg("knowledge base seeded")
	return err
}

// Close drains pending writes and hook handlers, then releases storage.
func (st *stack) Close(ctx context.Context) {
	if st.sink != nil {
		if err := st.sink.Close(ctx); err != nil {
			st.log.Warn().Err(err).Int("pending", st.sink.Pending()).Msg("history writes still pending at shutdown")
		}
	}
	if st.hooks != nil {
		if err := st.hooks.Wait(ctx); err != nil {
			st.log.Warn().Err(err).Msg("hook handlers still running at shutdown")
		}
	}
	if st.history != nil {
		if err := st.history.Close(); err != nil {
			st.log.Warn().Err(err).Msg("closing history store")
		}
	}
	st.closeDB()
}

func (st *stack) closeDB() {
	if st.db != nil {
		st.db.Close()
		st.db = nil
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
