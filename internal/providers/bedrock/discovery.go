// Package bedrock discovers Claude models available through AWS Bedrock
// so the model picker can offer Bedrock-hosted variants alongside the
// direct-API catalogs each provider adapter ships with.
package bedrock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"

	"github.com/qbit-ai/qbit/internal/agent"
	"github.com/qbit-ai/qbit/internal/tokenbudget"
)

// Config holds discovery options.
type Config struct {
	// Region is the AWS region to query (default us-east-1).
	Region string

	// RefreshInterval is how long discovered models stay cached
	// (default 1 hour).
	RefreshInterval time.Duration

	// Providers limits discovery to these Bedrock provider names
	// (lowercased). Empty means anthropic only, since that's what the
	// runtime can drive.
	Providers []string

	// Explicit credentials; empty falls back to the default AWS chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Hour
	}
	if len(c.Providers) == 0 {
		c.Providers = []string{"anthropic"}
	}
}

// listModelsAPI is the slice of the Bedrock control-plane client the
// catalog needs; tests substitute a fake.
type listModelsAPI interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// Catalog caches discovered models per instance. Concurrent refreshes
// are deduplicated: callers arriving during an in-flight fetch wait for
// its result instead of issuing their own.
type Catalog struct {
	cfg Config

	newClient func(aws.Config) listModelsAPI

	mu        sync.Mutex
	models    []agent.Model
	expiresAt time.Time
	inFlight  chan struct{}
}

// NewCatalog returns a Catalog with cfg's defaults applied.
func NewCatalog(cfg Config) *Catalog {
	cfg.applyDefaults()
	return &Catalog{
		cfg: cfg,
		newClient: func(awsCfg aws.Config) listModelsAPI {
			return bedrock.NewFromConfig(awsCfg)
		},
	}
}

// Models returns the discovered models, refreshing the cache if it has
// expired.
func (c *Catalog) Models(ctx context.Context) ([]agent.Model, error) {
	for {
		c.mu.Lock()
		if time.Now().Before(c.expiresAt) {
			models := c.models
			c.mu.Unlock()
			return models, nil
		}
		if c.inFlight != nil {
			wait := c.inFlight
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inFlight = done
		c.mu.Unlock()

		models, err := c.fetch(ctx)

		c.mu.Lock()
		c.inFlight = nil
		close(done)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.models = models
		c.expiresAt = time.Now().Add(c.cfg.RefreshInterval)
		c.mu.Unlock()
		return models, nil
	}
}

// Invalidate drops the cache so the next Models call refetches.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Catalog) fetch(ctx context.Context) ([]agent.Model, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.cfg.Region)}
	if c.cfg.AccessKeyID != "" && c.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.cfg.AccessKeyID, c.cfg.SecretAccessKey, c.cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	out, err := c.newClient(awsCfg).ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fmt.Errorf("bedrock: list foundation models: %w", err)
	}

	var models []agent.Model
	for i := range out.ModelSummaries {
		summary := &out.ModelSummaries[i]
		if !c.include(summary) {
			continue
		}
		models = append(models, toAgentModel(summary))
	}
	return models, nil
}

// include keeps active, streaming-capable, text-out models from the
// configured providers. The agentic loop needs streaming and text
// output; anything else can't be driven.
func (c *Catalog) include(summary *types.FoundationModelSummary) bool {
	if summary.ModelId == nil {
		return false
	}
	if summary.ModelLifecycle != nil && summary.ModelLifecycle.Status != types.FoundationModelLifecycleStatusActive {
		return false
	}
	if summary.ResponseStreamingSupported == nil || !*summary.ResponseStreamingSupported {
		return false
	}
	textOut := false
	for _, m := range summary.OutputModalities {
		if m == types.ModelModalityText {
			textOut = true
		}
	}
	if !textOut {
		return false
	}

	provider := ""
	if summary.ProviderName != nil {
		provider = strings.ToLower(*summary.ProviderName)
	}
	for _, want := range c.cfg.Providers {
		if provider == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// toAgentModel maps a Bedrock summary to the runtime's model type. The
// control-plane API doesn't report context windows, so the shared
// token-budget table supplies them from the model id.
func toAgentModel(summary *types.FoundationModelSummary) agent.Model {
	id := aws.ToString(summary.ModelId)
	name := aws.ToString(summary.ModelName)
	if name == "" {
		name = id
	}

	vision := false
	for _, m := range summary.InputModalities {
		if m == types.ModelModalityImage {
			vision = true
		}
	}

	return agent.Model{
		ID:             id,
		Name:           name,
		ContextSize:    int(tokenbudget.ForModel(id).MaxContextTokens),
		SupportsVision: vision,
	}
}
