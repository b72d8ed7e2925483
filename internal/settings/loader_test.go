package settings

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ci-core/internal/domain"
)

const sampleDoc = `
docker:
  images:
    - name: api
      context: ./server
    - name: web
      context: ./web
analysis:
  languages: [go, javascript]
frontend:
  dir: web
feature:
  enabled: "true"
`

func TestQuery(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		query    domain.ConfigQuery
		wantRaw  any
		wantErr  error
		defaults bool
	}{
		{
			name:  "list of objects",
			doc:   sampleDoc,
			query: domain.ConfigQuery{Name: "images", Path: "docker.images", Kind: domain.QueryList},
			wantRaw: []any{
				map[string]any{"name": "api", "context": "./server"},
				map[string]any{"name": "web", "context": "./web"},
			},
		},
		{
			name:    "list of scalars",
			doc:     sampleDoc,
			query:   domain.ConfigQuery{Name: "langs", Path: "analysis.languages", Kind: domain.QueryList},
			wantRaw: []any{"go", "javascript"},
		},
		{
			name:    "scalar string",
			doc:     sampleDoc,
			query:   domain.ConfigQuery{Name: "dir", Path: "frontend.dir", Kind: domain.QueryScalar, Required: true},
			wantRaw: "web",
		},
		{
			name:    "sequence index",
			doc:     sampleDoc,
			query:   domain.ConfigQuery{Name: "first", Path: "docker.images.0.name"},
			wantRaw: "api",
		},
		{
			name:     "optional section absent uses default",
			doc:      sampleDoc,
			query:    domain.ConfigQuery{Name: "enabled", Path: "analysis.enabled", Kind: domain.QueryScalar, Default: false},
			wantRaw:  false,
			defaults: true,
		},
		{
			name:     "empty document uses default",
			doc:      "",
			query:    domain.ConfigQuery{Name: "images", Path: "docker.images", Kind: domain.QueryList, Default: []any{}},
			wantRaw:  []any{},
			defaults: true,
		},
		{
			name:    "required path missing",
			doc:     sampleDoc,
			query:   domain.ConfigQuery{Name: "x", Path: "nope.nothing", Required: true},
			wantErr: domain.ErrConfigMissing,
		},
		{
			name:    "required null value",
			doc:     "docker:\n  images: ~\n",
			query:   domain.ConfigQuery{Name: "images", Path: "docker.images", Kind: domain.QueryList, Required: true},
			wantErr: domain.ErrConfigMissing,
		},
		{
			name:    "list expected scalar found",
			doc:     sampleDoc,
			query:   domain.ConfigQuery{Name: "dir", Path: "frontend.dir", Kind: domain.QueryList},
			wantErr: domain.ErrConfigTypeMismatch,
		},
		{
			name:    "scalar expected list found",
			doc:     sampleDoc,
			query:   domain.ConfigQuery{Name: "langs", Path: "analysis.languages", Kind: domain.QueryScalar},
			wantErr: domain.ErrConfigTypeMismatch,
		},
		{
			name:    "malformed document",
			doc:     "docker: [unterminated\n  - x: {",
			query:   domain.ConfigQuery{Name: "images", Path: "docker.images"},
			wantErr: domain.ErrConfigMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Query([]byte(tt.doc), []domain.ConfigQuery{tt.query})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			v := got.Get(tt.query.Name)
			assert.Equal(t, tt.wantRaw, v.Raw())
			assert.Equal(t, tt.defaults, v.Defaulted())
		})
	}
}

func TestValue_Records(t *testing.T) {
	recs, err := NewValue([]any{map[string]any{"os": "linux"}, "darwin"}).Records()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"os": "linux"}, {"value": "darwin"}}, recs)

	recs, err = NewValue(nil).Records()
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = NewValue("scalar").Records()
	assert.ErrorIs(t, err, domain.ErrConfigTypeMismatch)
}

func TestValue_Bool(t *testing.T) {
	b, ok := NewValue(true).Bool()
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = NewValue("false").Bool()
	assert.True(t, ok)
	assert.False(t, b)

	_, ok = NewValue([]any{}).Bool()
	assert.False(t, ok)
}

func TestLoader_ResolveFromFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ci.yaml"), []byte(sampleDoc), 0o600))

	loader := NewLoader(FileSource{Root: dir}, slog.New(slog.DiscardHandler))
	got, err := loader.Resolve(context.Background(), domain.ConfigSpec{
		Path: "ci.yaml",
		Queries: []domain.ConfigQuery{
			{Name: "langs", Path: "analysis.languages", Kind: domain.QueryList},
			{Name: "feature", Path: "feature.enabled", Kind: domain.QueryScalar},
		},
	})
	require.NoError(t, err)

	langs, ok := got.Get("langs").List()
	require.True(t, ok)
	assert.Len(t, langs, 2)
	enabled, ok := got.Get("feature").Bool()
	assert.True(t, ok)
	assert.True(t, enabled)
}

func TestLoader_AbsentFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(FileSource{Root: t.TempDir()}, slog.New(slog.DiscardHandler))
	got, err := loader.Resolve(context.Background(), domain.ConfigSpec{
		Path:    "missing.yaml",
		Queries: []domain.ConfigQuery{{Name: "analysis", Path: "analysis.enabled", Default: false}},
	})
	require.NoError(t, err)
	b, ok := got.Get("analysis").Bool()
	assert.True(t, ok)
	assert.False(t, b)
}

func TestLoader_AbsentFileRequiredQueryFails(t *testing.T) {
	loader := NewLoader(BytesSource{}, slog.New(slog.DiscardHandler))
	_, err := loader.Resolve(context.Background(), domain.ConfigSpec{
		Path:    "ci.yaml",
		Queries: []domain.ConfigQuery{{Name: "images", Path: "docker.images", Required: true}},
	})
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
}
