// Command conduit assembles and runs a small message-dispatch pipeline,
// demonstrating staged composition: two ordered steps on the incoming stage,
// a connector into the routed stage and a terminator, with run history
// persisted to libSQL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/conduit/internal/logging"
	"github.com/rendis/conduit/internal/manifest"
	"github.com/rendis/conduit/internal/runner"
	"github.com/rendis/conduit/internal/store"
	"github.com/rendis/conduit/pkg/pipeline"
)

const (
	shapeIncoming pipeline.Shape = "incoming"
	shapeRouted   pipeline.Shape = "routed"
)

// incomingMessage is the root pipeline context.
type incomingMessage struct {
	Sender  string
	Subject string
	Body    string
}

func (*incomingMessage) Shape() pipeline.Shape { return shapeIncoming }

// routedMessage is produced by the routing connector.
type routedMessage struct {
	Destination string
	Body        string
}

func (*routedMessage) Shape() pipeline.Shape { return shapeRouted }

func main() {
	cfg := loadConfig()
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.slogLevel()}),
	))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("conduit failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	settings := pipeline.NewSettings()
	settings.RegisterCloser(st)
	defer settings.Close()
	if err := settings.SetDefault("audit", true); err != nil {
		return err
	}

	registry := pipeline.NewRegistry()
	if err := registerBehaviors(registry, logger); err != nil {
		return err
	}

	coordinator := pipeline.NewCoordinator()
	if cfg.ManifestPath != "" {
		if err := applyManifest(cfg.ManifestPath, registry, coordinator, settings); err != nil {
			return err
		}
	} else {
		if err := registerSteps(registry, coordinator); err != nil {
			return err
		}
	}
	settings.Lock()

	p, err := pipeline.Build(ctx, coordinator, shapeIncoming, settings, pipeline.NewComponents(),
		pipeline.WithName("messages"),
		pipeline.WithObserver(store.NewRunRecorder(st, logger)),
	)
	if err != nil {
		return err
	}
	logger.Info("pipeline compiled", slog.Any("order", p.StepIDs()))

	r := runner.NewRunner(cfg.PoolSize, logger)
	defer r.Shutdown()

	messages := []*incomingMessage{
		{Sender: "alice", Subject: "hello", Body: "first message"},
		{Sender: "bob", Subject: "ops", Body: "disk almost full"},
		{Sender: "carol", Subject: "hello again", Body: "second message"},
	}
	for _, m := range messages {
		if err := r.Run(ctx, p, m); err != nil {
			logger.Warn("message rejected", slog.String("sender", m.Sender), slog.String("error", err.Error()))
		}
	}

	runs, err := st.ListRuns(ctx, store.RunFilter{Pipeline: "messages", Limit: 10})
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %-9s  %dms\n", run.ID, run.Status, run.DurationMs)
	}
	return nil
}

// registerBehaviors fills the registry with the demo behavior catalogue.
func registerBehaviors(registry *pipeline.Registry, logger *slog.Logger) error {
	regs := map[string]pipeline.Registration{
		"validate": {
			Factory:     validateFactory(),
			Input:       shapeIncoming,
			Kind:        pipeline.KindStep,
			Description: "rejects messages without a sender or body",
		},
		"audit-log": {
			Factory:     auditFactory(logger),
			Input:       shapeIncoming,
			Kind:        pipeline.KindStep,
			Description: "logs every accepted message",
		},
		"route": {
			Factory:     routeFactory(),
			Input:       shapeIncoming,
			Output:      shapeRouted,
			Kind:        pipeline.KindConnector,
			Description: "picks a destination queue by subject",
		},
		"deliver": {
			Factory:     deliverFactory(logger),
			Input:       shapeRouted,
			Kind:        pipeline.KindTerminator,
			Description: "hands the message to its destination",
		},
	}
	for name, reg := range regs {
		if err := registry.Register(name, reg); err != nil {
			return err
		}
	}
	return nil
}

// registerSteps wires the programmatic default pipeline.
func registerSteps(registry *pipeline.Registry, coordinator *pipeline.Coordinator) error {
	for _, entry := range []struct {
		id       string
		behavior string
		mutate   func(*pipeline.Step)
	}{
		{"audit", "audit-log", func(s *pipeline.Step) {
			s.InsertAfter("check").EnableIf("settings.audit")
		}},
		{"check", "validate", nil},
		{"route", "route", nil},
		{"deliver", "deliver", nil},
	} {
		step, err := registry.NewStep(entry.id, entry.behavior)
		if err != nil {
			return err
		}
		if entry.mutate != nil {
			entry.mutate(step)
		}
		coordinator.Register(step)
	}
	return nil
}

func applyManifest(path string, registry *pipeline.Registry, coordinator *pipeline.Coordinator, settings *pipeline.Settings) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	loader, err := manifest.NewLoader()
	if err != nil {
		return err
	}
	doc, err := loader.Load(f)
	if err != nil {
		return err
	}
	return manifest.Apply(doc, registry, coordinator, settings)
}

func validateFactory() pipeline.Factory {
	return func(pipeline.Builder) (pipeline.Behavior, error) {
		return pipeline.BehaviorFunc(func(ctx context.Context, pc pipeline.Context, next pipeline.Next) error {
			m := pc.(*incomingMessage)
			if m.Sender == "" || m.Body == "" {
				return pipeline.NewError(pipeline.ErrCodeExecution, "message needs a sender and a body")
			}
			return next(ctx, pc)
		}), nil
	}
}

func auditFactory(logger *slog.Logger) pipeline.Factory {
	return func(pipeline.Builder) (pipeline.Behavior, error) {
		return pipeline.FilterBehavior(pipeline.FilterFunc(
			func(ctx context.Context, pc pipeline.Context, next func(ctx context.Context) error) error {
				m := pc.(*incomingMessage)
				logger.InfoContext(ctx, "message accepted",
					slog.String("sender", m.Sender),
					slog.String("subject", m.Subject),
				)
				return next(ctx)
			})), nil
	}
}

func routeFactory() pipeline.Factory {
	return func(pipeline.Builder) (pipeline.Behavior, error) {
		return pipeline.BehaviorFunc(func(ctx context.Context, pc pipeline.Context, next pipeline.Next) error {
			m := pc.(*incomingMessage)
			dest := "inbox"
			if m.Subject == "ops" {
				dest = "alerts"
			}
			return next(ctx, &routedMessage{Destination: dest, Body: m.Body})
		}), nil
	}
}

func deliverFactory(logger *slog.Logger) pipeline.Factory {
	return func(pipeline.Builder) (pipeline.Behavior, error) {
		return pipeline.BehaviorFunc(func(ctx context.Context, pc pipeline.Context, next pipeline.Next) error {
			m := pc.(*routedMessage)
			logger.InfoContext(ctx, "message delivered", slog.String("destination", m.Destination))
			return nil
		}), nil
	}
}
