// Package app builds the object graph from one config.Config. Both
// entrypoints go through Build so Lambda and the local server cannot drift.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"tutor-agent/handler"
	"tutor-agent/internal/config"
	"tutor-agent/internal/integrations/github"
	"tutor-agent/internal/integrations/notion"
	"tutor-agent/internal/integrations/openai"
	"tutor-agent/internal/integrations/paramstore"
	"tutor-agent/internal/logstore"
	"tutor-agent/internal/repository"
	"tutor-agent/internal/retry"
	"tutor-agent/internal/usecase"
)

type App struct {
	Config     config.Config
	Logs       *logstore.Store
	Records    *notion.Client
	Resolver   *usecase.Resolver
	Summarizer *usecase.Summarizer
	Chat       *usecase.ChatService
	Catalog    *usecase.Catalog
	Handler    *handler.Handler
}

type options struct {
	awsConfig *aws.Config
	logger    *slog.Logger
}

type Option func(*options)

// WithAWSConfig skips the default credential chain.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *options) {
		o.awsConfig = &cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Build resolves secrets, validates cfg and wires every component. AWS is
// only contacted when SSM secrets or the DynamoDB backend are configured.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		if o.awsConfig != nil {
			awsCfg = o.awsConfig
			return *awsCfg, nil
		}
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &loaded
		return loaded, nil
	}

	if cfg.ParamPrefix != "" {
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		params, err := paramstore.New(awsssm.NewFromConfig(ac))
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		if err := cfg.ResolveSecrets(ctx, params); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{MaxRetries: cfg.RetryMax, Delay: cfg.RetryDelay}

	backend, err := buildBackend(cfg, policy, logger, loadAWS)
	if err != nil {
		return nil, err
	}
	logs, err := logstore.New(backend,
		logstore.WithPolicy(policy),
		logstore.WithLocation(loc),
		logstore.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	notionSender := retry.NewClient(
		retry.WithPolicy(policy),
		retry.WithHTTPClient(notion.AuthorizedHTTPClient(cfg.NotionAPIKey, cfg.RequestTimeout)),
		retry.WithLogger(logger),
	)
	records, err := notion.New(notionSender, cfg.NotionDatabaseID,
		notion.WithBaseURL(cfg.NotionAPIURL),
		notion.WithChapterMatching(cfg.RecordMatchChapter),
	)
	if err != nil {
		return nil, err
	}

	aiDoer := retry.NewClient(
		retry.WithPolicy(policy),
		retry.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		retry.WithLogger(logger),
	)
	ai, err := openai.NewClient(cfg.AIAPIKey, cfg.AIAPIURL,
		openai.WithHTTPClient(aiDoer),
		openai.WithModel(cfg.AIModel),
		openai.WithMaxTokens(cfg.AIMaxTokens),
		openai.WithTemperature(cfg.AITemperature),
	)
	if err != nil {
		return nil, err
	}

	prompts := usecase.Prompts{System: cfg.AISystemPrompt, Summary: cfg.AISummaryPrompt, Challenge: cfg.AIChallengePrompt}

	resolver, err := usecase.NewResolver(records, logs, logger)
	if err != nil {
		return nil, err
	}
	summarizer, err := usecase.NewSummarizer(logs, records, ai,
		usecase.WithSummaryPrompts(prompts),
		usecase.WithSummarizerLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	writer, err := usecase.NewWriter(logs)
	if err != nil {
		return nil, err
	}
	chat, err := usecase.NewChatService(ai, writer,
		usecase.WithChatPrompts(prompts),
		usecase.WithReplyTokens(cfg.AIMaxTokens),
		usecase.WithChatLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	catalog, err := usecase.NewCatalog(records)
	if err != nil {
		return nil, err
	}

	h, err := handler.NewHandler(handler.Services{
		Resolver: resolver,
		Chat:     chat,
		Sync:     summarizer,
		Catalog:  catalog,
	}, handler.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		Logs:       logs,
		Records:    records,
		Resolver:   resolver,
		Summarizer: summarizer,
		Chat:       chat,
		Catalog:    catalog,
		Handler:    h,
	}, nil
}

func buildBackend(cfg config.Config, policy retry.Policy, logger *slog.Logger, loadAWS func() (aws.Config, error)) (logstore.Backend, error) {
	switch cfg.LogBackend {
	case config.BackendDynamoDB:
		ac, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return repository.New(awsdynamodb.NewFromConfig(ac), cfg.LogTable, repository.WithPrefix(cfg.LogPrefix))
	default:
		doer := retry.NewClient(
			retry.WithPolicy(policy),
			retry.WithHTTPClient(github.AuthorizedHTTPClient(cfg.GitHubToken, cfg.RequestTimeout)),
			retry.WithLogger(logger),
		)
		return github.New(doer, cfg.GitHubRepoInfo,
			github.WithBaseURL(cfg.GitHubAPIURL),
			github.WithPrefix(cfg.LogPrefix),
		)
	}
}
