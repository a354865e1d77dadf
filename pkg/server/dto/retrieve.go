package dto

import (
	"fmt"
	"strings"

	"github.com/soundprediction/strata"
	"github.com/soundprediction/strata/pkg/graphstore"
	"github.com/soundprediction/strata/pkg/traversal"
	"github.com/soundprediction/strata/pkg/types"
)

// RetrieveRequest represents a request to retrieve context for a query
type RetrieveRequest struct {
	TenantID          string    `json:"tenant_id"`
	Query             string    `json:"query"`
	Embedding         []float32 `json:"embedding,omitempty"`
	Strategy          string    `json:"strategy,omitempty"`
	TopK              int       `json:"top_k,omitempty"`
	TokenBudget       int       `json:"token_budget,omitempty"`
	MaxHops           int       `json:"max_hops,omitempty"`
	MinConfidence     float64   `json:"min_confidence,omitempty"`
	RelationshipTypes []string  `json:"relationship_types,omitempty"`
	Direction         string    `json:"direction,omitempty"`
}

// Validate performs validation on RetrieveRequest
func (r *RetrieveRequest) Validate() error {
	if err := ValidateTenantID(r.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Query) == "" && len(r.Embedding) == 0 {
		return ErrEmptyQuery
	}
	if len(r.Query) > MaxQueryLength {
		return ErrQueryTooLong
	}
	if r.MaxHops < 0 || r.MaxHops > MaxHops {
		return fmt.Errorf("max_hops must be within [0, %d]", MaxHops)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0, 1]")
	}
	return validateDirection(r.Direction)
}

// ToQuery converts the request into an engine query.
func (r *RetrieveRequest) ToQuery() (strata.Query, error) {
	relTypes, err := parseRelationshipTypes(r.RelationshipTypes)
	if err != nil {
		return strata.Query{}, err
	}
	return strata.Query{
		TenantID:          r.TenantID,
		Text:              r.Query,
		Embedding:         r.Embedding,
		Strategy:          types.Strategy(strings.ToLower(r.Strategy)),
		TopK:              r.TopK,
		TokenBudget:       r.TokenBudget,
		MaxHops:           r.MaxHops,
		MinConfidence:     r.MinConfidence,
		RelationshipTypes: relTypes,
		Direction:         graphstore.ParseDirection(r.Direction),
	}, nil
}

// TraverseRequest represents a direct traversal request
type TraverseRequest struct {
	TenantID          string   `json:"tenant_id"`
	EntryEntityIDs    []string `json:"entry_entity_ids,omitempty"`
	EntryHints        []string `json:"entry_hints,omitempty"`
	RelationshipTypes []string `json:"relationship_types,omitempty"`
	Direction         string   `json:"direction,omitempty"`
	MaxHops           int      `json:"max_hops,omitempty"`
	MinConfidence     float64  `json:"min_confidence,omitempty"`
	MaxResults        int      `json:"max_results,omitempty"`
}

// Validate performs validation on TraverseRequest
func (r *TraverseRequest) Validate() error {
	if err := ValidateTenantID(r.TenantID); err != nil {
		return err
	}
	if len(r.EntryEntityIDs) == 0 && len(r.EntryHints) == 0 {
		return fmt.Errorf("entry_entity_ids or entry_hints is required")
	}
	if r.MaxHops < 0 || r.MaxHops > MaxHops {
		return fmt.Errorf("max_hops must be within [0, %d]", MaxHops)
	}
	return validateDirection(r.Direction)
}

// ToRequest converts the request into a traversal request.
func (r *TraverseRequest) ToRequest() (traversal.Request, error) {
	relTypes, err := parseRelationshipTypes(r.RelationshipTypes)
	if err != nil {
		return traversal.Request{}, err
	}
	return traversal.Request{
		TenantID:          r.TenantID,
		EntryEntityIDs:    r.EntryEntityIDs,
		EntryHints:        r.EntryHints,
		RelationshipTypes: relTypes,
		Direction:         graphstore.ParseDirection(r.Direction),
		MaxHops:           r.MaxHops,
		MinConfidence:     r.MinConfidence,
		MaxResults:        r.MaxResults,
	}, nil
}

// ResolveRequest represents a request to resolve one entity candidate
type ResolveRequest struct {
	TenantID string                `json:"tenant_id"`
	Entity   types.ExtractedEntity `json:"entity"`
}

// Validate performs validation on ResolveRequest
func (r *ResolveRequest) Validate() error {
	if err := ValidateTenantID(r.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Entity.Name) == "" {
		return fmt.Errorf("entity.name cannot be empty")
	}
	return nil
}

func validateDirection(d string) error {
	switch d {
	case "", "outgoing", "out", "incoming", "in", "both", "any":
		return nil
	default:
		return ErrInvalidDirection
	}
}

func parseRelationshipTypes(names []string) ([]types.RelationshipType, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]types.RelationshipType, 0, len(names))
	for _, name := range names {
		t, err := types.ParseRelationshipType(name)
		if err != nil {
			return nil, types.NewValidationError("relationship_types", fmt.Sprintf("%q: %v", name, err))
		}
		out = append(out, t)
	}
	return out, nil
}
