package strata

import (
	"fmt"
	"os"

	"github.com/soundprediction/strata/pkg/assembler"
	"github.com/soundprediction/strata/pkg/classifier"
	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/resolver"
	"github.com/soundprediction/strata/pkg/skeleton"
	"github.com/soundprediction/strata/pkg/traversal"
	"github.com/soundprediction/strata/pkg/types"
)

// NewConfig converts loaded settings into a client Config. Zero-valued
// settings keep the component defaults.
func NewConfig(settings *config.Config) (*Config, error) {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg, nil
	}

	cfg.Resolver = resolver.Config{
		FuzzyThreshold:      settings.Resolver.FuzzyThreshold,
		EmbeddingThreshold:  settings.Resolver.EmbeddingThreshold,
		AmbiguousConfidence: settings.Resolver.AmbiguousConfidence,
	}
	if settings.Resolver.ReviewQueueSize > 0 {
		cfg.ReviewQueueSize = settings.Resolver.ReviewQueueSize
	}
	if settings.Resolver.Workers > 0 {
		cfg.IngestWorkers = settings.Resolver.Workers
	}
	if settings.Schema.Path != "" {
		data, err := os.ReadFile(settings.Schema.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		schema, err := types.LoadSchemaYAML(data)
		if err != nil {
			return nil, err
		}
		cfg.Schema = schema
	}

	sk := settings.Skeleton
	cfg.Skeleton = skeleton.Config{
		Weights: skeleton.Weights{
			PageRank:  sk.PageRankWeight,
			Curation:  sk.CurationWeight,
			Recency:   sk.RecencyWeight,
			Citations: sk.CitationWeight,
		},
		Threshold:                sk.Threshold,
		BudgetFraction:           sk.BudgetFraction,
		RecencyHalfLife:          sk.RecencyHalfLife,
		AlwaysSkeletonCategories: sk.AlwaysCategories,
		PageRankDamping:          sk.Damping,
		PageRankIterations:       sk.MaxIterations,
		PageRankTolerance:        sk.Tolerance,
		PageRankTimeout:          sk.PageRankTimeout,
		BatchInterval:            sk.BatchInterval,
	}
	cfg.SkeletonOnly = sk.GateIngestion

	cfg.Classifier = classifier.Config{
		HighThreshold: settings.Classifier.HighThreshold,
		LowThreshold:  settings.Classifier.LowThreshold,
	}

	tr := traversal.DefaultConfig()
	if settings.Traversal.MaxHops > 0 {
		tr.MaxHops = settings.Traversal.MaxHops
	}
	if settings.Traversal.MinConfidence > 0 {
		tr.MinConfidence = settings.Traversal.MinConfidence
	}
	if settings.Traversal.BranchingCap > 0 {
		tr.BranchingCap = settings.Traversal.BranchingCap
	}
	if settings.Traversal.MaxResults > 0 {
		tr.MaxResults = settings.Traversal.MaxResults
	}
	if settings.Traversal.Parallelism > 0 {
		tr.Parallelism = settings.Traversal.Parallelism
	}
	cfg.Traversal = tr

	cfg.Assembler = assembler.Config{
		TokenBudget:    settings.Assembler.TokenBudget,
		MinVectorShare: settings.Assembler.MinVectorShare,
	}

	rc := settings.Retrieval
	cfg.Retrieval.Deadline = rc.Deadline
	cfg.Retrieval.VectorSearchTimeout = rc.VectorSearchLimit
	cfg.Retrieval.GraphSearchTimeout = rc.GraphSearchLimit
	cfg.Retrieval.TraversalTimeout = rc.TraversalLimit
	cfg.Retrieval.ChunkFetchTimeout = rc.ChunkFetchLimit
	if rc.TopK > 0 {
		cfg.Retrieval.TopK = rc.TopK
	}
	if rc.EntitySearchLimit > 0 {
		cfg.Retrieval.EntitySearchLimit = rc.EntitySearchLimit
	}
	if rc.MaxGraphChunks > 0 {
		cfg.Retrieval.MaxGraphChunks = rc.MaxGraphChunks
	}
	return cfg, nil
}
