package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		entity  Entity
		wantErr error
	}{
		{"valid", Entity{Name: "Postgres-16", TenantID: "acme", Type: EntityTechnology, Confidence: 0.9}, nil},
		{"missing name", Entity{TenantID: "acme", Type: EntityTechnology}, ErrEmptyName},
		{"missing tenant", Entity{Name: "x", Type: EntityTechnology}, ErrEmptyTenantID},
		{"unknown type", Entity{Name: "x", TenantID: "acme", Type: "planet"}, ErrInvalidEntity},
		{"confidence out of range", Entity{Name: "x", TenantID: "acme", Type: EntityRisk, Confidence: 1.5}, ErrInvalidConfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseEntityType(t *testing.T) {
	t.Parallel()
	got, err := ParseEntityType("  Product ")
	require.NoError(t, err)
	assert.Equal(t, EntityProduct, got)

	_, err = ParseEntityType("galaxy")
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestParseRelationshipType(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"depends_on", "depends on", "Depends-On"} {
		got, err := ParseRelationshipType(in)
		require.NoError(t, err, in)
		assert.Equal(t, RelDependsOn, got, in)
	}
	_, err := ParseRelationshipType("likes")
	assert.ErrorIs(t, err, ErrInvalidRelType)
}

func TestEntityMergeFrom(t *testing.T) {
	t.Parallel()

	t.Run("higher confidence wins conflicts", func(t *testing.T) {
		existing := &Entity{
			Name:       "Postgres-16",
			Confidence: 0.6,
			Properties: map[string]interface{}{"version": "16.0", "vendor": "PGDG"},
		}
		incoming := &Entity{
			Name:       "postgres 16",
			Confidence: 0.9,
			Aliases:    []string{"PG16"},
			Properties: map[string]interface{}{"version": "16.2", "license": "PostgreSQL"},
		}

		existing.MergeFrom(incoming)

		assert.Equal(t, "16.2", existing.Properties["version"])
		assert.Equal(t, "PGDG", existing.Properties["vendor"])
		assert.Equal(t, "PostgreSQL", existing.Properties["license"])
		assert.Equal(t, 0.9, existing.Confidence)
		assert.ElementsMatch(t, []string{"postgres 16", "PG16"}, existing.Aliases)
		assert.Equal(t, "Postgres-16", existing.Name, "canonical name is kept")
	})

	t.Run("lower confidence only fills gaps", func(t *testing.T) {
		existing := &Entity{Name: "A", Confidence: 0.9, Properties: map[string]interface{}{"k": "old"}}
		existing.MergeFrom(&Entity{Name: "a", Confidence: 0.2, Properties: map[string]interface{}{"k": "new", "j": 1}})

		assert.Equal(t, "old", existing.Properties["k"])
		assert.Equal(t, 1, existing.Properties["j"])
		assert.Empty(t, existing.Aliases, "case-insensitive duplicate of the name is not an alias")
	})
}

func TestRelationshipValidate(t *testing.T) {
	t.Parallel()
	rel := &Relationship{TenantID: "acme", FromID: "a", ToID: "a", Type: RelDependsOn, Confidence: 0.5}
	assert.ErrorIs(t, rel.Validate(), ErrSelfLoop)

	rel.Type = RelSupersededBy
	assert.NoError(t, rel.Validate())
}

func TestRelationshipMerge(t *testing.T) {
	t.Parallel()
	rel := &Relationship{Confidence: 0.8, ObservationCount: 1, EvidenceSpans: []string{"uses postgres"}, SourceDocumentIDs: []string{"d1"}}
	rel.Merge(&Relationship{Confidence: 0.4, EvidenceSpans: []string{"runs on pg16", "uses postgres"}, SourceDocumentIDs: []string{"d2"}})

	assert.InDelta(t, 0.6, rel.Confidence, 1e-9)
	assert.Equal(t, 2, rel.ObservationCount)
	assert.Equal(t, []string{"uses postgres", "runs on pg16"}, rel.EvidenceSpans)
	assert.Equal(t, []string{"d1", "d2"}, rel.SourceDocumentIDs)
}

func TestRelationshipIDIsStable(t *testing.T) {
	t.Parallel()
	a := RelationshipID("acme", "x", RelDependsOn, "y")
	b := RelationshipID("acme", "x", RelDependsOn, "y")
	c := RelationshipID("other", "x", RelDependsOn, "y")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPathExtend(t *testing.T) {
	t.Parallel()
	now := time.Now()
	a := &Entity{ID: "a", UpdatedAt: now.Add(-time.Hour)}
	b := &Entity{ID: "b", UpdatedAt: now}
	c := &Entity{ID: "c", UpdatedAt: now.Add(-2 * time.Hour)}

	p := NewPath(a)
	p2 := p.Extend(&Relationship{Type: RelDependsOn, Confidence: 0.9}, b)
	p3 := p2.Extend(&Relationship{Type: RelDependsOn, Confidence: 0.5}, c)

	assert.Equal(t, 0, p.EdgeCount(), "extend does not mutate the receiver")
	assert.Equal(t, 2, p3.HopCount)
	assert.Equal(t, 2, p3.EdgeCount())
	assert.InDelta(t, 0.45, p3.PathConfidence, 1e-9)
	assert.Equal(t, now, p3.LatestUpdate)
	assert.Equal(t, []string{"a", "b", "c"}, p3.EntityIDs())
	assert.True(t, p3.Contains("b"))
	assert.Equal(t, "a-depends_on->b-depends_on->c", p3.Signature())
}

func TestTenantViolationError(t *testing.T) {
	t.Parallel()
	var err error = NewTenantViolation("traverse", "acme", "entity", "e1", "globex")
	wrapped := errors.Join(errors.New("outer"), err)

	assert.True(t, errors.Is(wrapped, ErrTenantViolation))
	assert.True(t, IsTenantViolation(err))
	assert.Contains(t, err.Error(), "acme")
	assert.NotContains(t, err.Error(), "globex")

	var tv *TenantViolationError
	require.True(t, errors.As(wrapped, &tv))
	assert.Equal(t, "e1", tv.ResourceID)
	assert.Equal(t, "globex", tv.ForeignTenant)
}

func TestBackendError(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	err := NewBackendError("vector", cause)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestLoadSchemaYAML(t *testing.T) {
	t.Parallel()
	data := []byte(`
types:
  person:
    required: [email]
    allowed: [title]
`)
	schema, err := LoadSchemaYAML(data)
	require.NoError(t, err)

	ok := &Entity{Type: EntityPerson, Properties: map[string]interface{}{"email": "a@b.c", "title": "CTO"}}
	assert.NoError(t, schema.ValidateProperties(ok))

	missing := &Entity{Type: EntityPerson, Properties: map[string]interface{}{"title": "CTO"}}
	var verr *ValidationError
	require.ErrorAs(t, schema.ValidateProperties(missing), &verr)
	assert.Equal(t, "properties.email", verr.Field)

	extra := &Entity{Type: EntityPerson, Properties: map[string]interface{}{"email": "a@b.c", "shoe_size": 44}}
	assert.Error(t, schema.ValidateProperties(extra))

	untyped := &Entity{Type: EntityRisk, Properties: map[string]interface{}{"anything": true}}
	assert.NoError(t, schema.ValidateProperties(untyped))

	_, err = LoadSchemaYAML([]byte("types:\n  planet: {}\n"))
	assert.Error(t, err)
}
