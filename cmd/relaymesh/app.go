package main

import (
	"errors"
	"fmt"
	"io"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/relaymesh"
	"github.com/hupe1980/relaymesh/config"
	"github.com/hupe1980/relaymesh/core"
	"github.com/hupe1980/relaymesh/docs"
	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/model"
	"github.com/hupe1980/relaymesh/model/anthropic"
	"github.com/hupe1980/relaymesh/model/openai"
	"github.com/hupe1980/relaymesh/search"
	"github.com/hupe1980/relaymesh/session"
	"github.com/hupe1980/relaymesh/store"
	"github.com/hupe1980/relaymesh/store/sqlite"
)

// app holds the components built from a config.
type app struct {
	cfg    *config.Config
	logger *logging.TurnLogger
	store  core.ConversationStore
	closer io.Closer
	mesh   *relaymesh.RelayMesh
}

// loadConfig reads the config file, falling back to defaults when none exists
// and no explicit path was given.
func loadConfig() (*config.Config, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		if configPath != "" {
			return nil, err
		}
		return config.Default(), nil
	}
	return config.Load(path)
}

func newApp(sender core.Sender) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewSlogLogger(level, cfg.Logging.Format, cfg.Logging.AddSource)

	a := &app{cfg: cfg, logger: logger}

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		db, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.store, a.closer = db, db
	default:
		a.store = store.NewMemory()
	}

	llm, err := newModel(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	searcher := search.NewManager("tavily")
	if cfg.Search.Tavily.Configured() {
		searcher.Register(search.NewTavily(cfg.Search.Tavily))
	} else {
		logger.Warn("search.tavily.unconfigured")
	}

	documents := docs.NewDir(cfg.Documents.Dir, func(o *docs.DirOptions) {
		if len(cfg.Documents.Extensions) > 0 {
			o.Extensions = cfg.Documents.Extensions
		}
	})

	sessions := session.NewRegistry(func(o *session.Options) {
		o.Store = a.store
		o.Expiry = cfg.Session.Expiry
		o.CleanupEvery = cfg.Session.CleanupEvery
		o.Logger = logger.WithComponent("session")
	})

	a.mesh = relaymesh.New(llm, func(o *relaymesh.Options) {
		o.Documents = documents
		o.Searcher = searcher
		o.Store = a.store
		o.Sender = sender
		o.Sessions = sessions
		o.MaxSteps = cfg.Engine.MaxSteps
		o.NotifySteps = cfg.Engine.NotifySteps && sender != nil
		o.MaxResults = cfg.Search.Tavily.MaxResults
		o.IncludeDomains = cfg.Search.Tavily.IncludeDomains
		o.Logger = logger
	})

	return a, nil
}

// Close releases the durable store.
func (a *app) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func newModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Model
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = sdkanthropic.Model(cfg.Model)
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	case config.ProviderMock:
		return offlineModel(), nil
	default:
		return nil, errors.New("unknown llm provider " + cfg.Provider)
	}
}

// offlineModel answers every turn directly, which is enough to exercise the
// full turn lifecycle without network access.
func offlineModel() *model.MockModel {
	return model.NewMockModel("offline").SetFallback(func(model.Request) (string, error) {
		return `{"response_type": "handoff", "agents": [{"agent_name": "respond_to_human", "parameters": {"message_to_user": "relaymesh is running in offline mode; no model is configured."}}]}`, nil
	})
}
