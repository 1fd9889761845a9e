package main

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/polishcitizenship/portal-core/internal/export"
	"github.com/polishcitizenship/portal-core/internal/intake"
	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/metrics"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/notify"
	"github.com/polishcitizenship/portal-core/internal/registry"
	"github.com/polishcitizenship/portal-core/internal/scorer"
	"github.com/polishcitizenship/portal-core/internal/store"
	"github.com/polishcitizenship/portal-core/pkg/notion"
)

// portalEnv holds the store and the services built on it, as needed by
// the serve, cases and export commands.
type portalEnv struct {
	Store    store.Store
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Cases    *lifecycle.Manager
	Intake   *intake.Service
	Exports  *export.Service
}

// Close releases resources held by the environment.
func (pe *portalEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initEnv validates config for mode, opens and migrates the store, loads
// the questionnaire and policy and wires the services. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*portalEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	q, err := loadQuestionnaire(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	policy, err := loadPolicy()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mt := defaultMetrics()
	notifier := notify.New(cfg.Notify, st, mt)
	if !notifier.Enabled() {
		zap.L().Debug("PORTAL_NOTIFY_WEBHOOK_URL not set, case events will not be delivered")
	}

	lcfg := lifecycle.FromConfig(cfg.Lifecycle)
	cases := lifecycle.NewManager(lcfg, st,
		lifecycle.WithPublisher(notifier),
		lifecycle.WithMetrics(mt),
	)

	var intakeOpts []intake.Option
	intakeOpts = append(intakeOpts, intake.WithMetrics(mt))
	if cfg.Scoring.AutoOpenLevel != "" {
		intakeOpts = append(intakeOpts, intake.WithAutoOpen(cases, model.Level(cfg.Scoring.AutoOpenLevel)))
	}

	gen := export.NewGenerator(cfg.Export, lcfg)

	return &portalEnv{
		Store:    st,
		Metrics:  mt,
		Notifier: notifier,
		Cases:    cases,
		Intake:   intake.NewService(q, policy, st, intakeOpts...),
		Exports:  export.NewService(cases, gen, notifier, mt),
	}, nil
}

// defaultMetrics registers the collectors with the default registry once
// per process.
var defaultMetrics = sync.OnceValue(metrics.New)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "portal.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// loadQuestionnaire reads the questionnaire from Notion when it is
// configured and from the fixture file otherwise.
func loadQuestionnaire(ctx context.Context) (model.Questionnaire, error) {
	fromFile := func() (model.Questionnaire, error) {
		q, err := registry.LoadQuestionnaireFromFile(cfg.Scoring.QuestionnairePath)
		if err != nil {
			return model.Questionnaire{}, eris.Wrap(err, "load questionnaire")
		}
		return q, nil
	}

	if cfg.Notion.Token == "" || cfg.Notion.QuestionDB == "" {
		zap.L().Debug("notion not configured, loading questionnaire from fixture file",
			zap.String("path", cfg.Scoring.QuestionnairePath),
		)
		return fromFile()
	}

	// The fixture carries the version label; Notion only holds the questions.
	base, err := fromFile()
	if err != nil {
		return model.Questionnaire{}, err
	}
	q, err := registry.LoadQuestionnaireFromNotion(ctx, notion.NewClient(cfg.Notion.Token), cfg.Notion.QuestionDB, base.Version)
	if err != nil {
		return model.Questionnaire{}, eris.Wrap(err, "load questionnaire")
	}
	zap.L().Info("questionnaire loaded from notion",
		zap.String("version", q.Version),
		zap.Int("questions", len(q.Questions)),
	)
	return q, nil
}

func loadPolicy() (scorer.Policy, error) {
	if cfg.Scoring.PolicyPath == "" {
		return scorer.DefaultPolicy(), nil
	}
	return scorer.LoadPolicy(cfg.Scoring.PolicyPath)
}
