package worker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Healer-AI/p8fs/internal/model"
	"github.com/Healer-AI/p8fs/internal/repository"
)

func TestDecodeEngram(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{
			name: "yaml with kind",
			raw:  "kind: Engram\nname: notes\n",
			want: true,
		},
		{
			name: "yaml with p8Kind",
			raw:  "p8Kind: Engram\nname: notes\n",
			want: true,
		},
		{
			name: "json with kind",
			raw:  `{"kind":"Engram","name":"notes"}`,
			want: true,
		},
		{
			name: "wrong kind",
			raw:  "kind: Deployment\nreplicas: 3\n",
			want: false,
		},
		{
			name: "no kind at all",
			raw:  "replicas: 3\n",
			want: false,
		},
		{
			name: "unparseable",
			raw:  "\t{{{not yaml",
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := decodeEngram([]byte(tt.raw))
			assert.Equal(t, tt.want, ok)
		})
	}
}

func engramEvent() *model.StorageEvent {
	return &model.StorageEvent{
		EventType: model.EventCreate,
		Path:      "/buckets/tenant-1/uploads/graph.yaml",
		TenantID:  "tenant-1",
	}
}

func TestEngram_UpsertEntries(t *testing.T) {
	repo := newFakeRepo()
	p := NewEngramProcessor(repo, zaptest.NewLogger(t))

	raw := []byte(`
kind: Engram
entries:
  - model: resource
    data:
      name: kickoff
      category: note
      content: agreed on the launch date
  - model: moment
    data:
      id: moment-1
      name: kickoff meeting
      content: the whole team met
`)
	handled, err := p.Process(context.Background(), engramEvent(), raw)
	require.NoError(t, err)
	assert.True(t, handled)

	resources := repo.upserts[model.ModelResource]
	require.Len(t, resources, 1)
	assert.Equal(t, "kickoff", resources[0]["name"])
	assert.NotEmpty(t, resources[0]["id"])

	moments := repo.upserts[model.ModelMoment]
	require.Len(t, moments, 1)
	assert.Equal(t, "moment-1", moments[0]["id"], "explicit ids are kept")
}

func TestEngram_EntryIDIsDeterministic(t *testing.T) {
	raw := []byte("kind: Engram\nentries:\n  - model: resource\n    data:\n      name: kickoff\n      content: hello\n")

	run := func() any {
		repo := newFakeRepo()
		p := NewEngramProcessor(repo, zaptest.NewLogger(t))
		_, err := p.Process(context.Background(), engramEvent(), raw)
		require.NoError(t, err)
		return repo.upserts[model.ModelResource][0]["id"]
	}

	assert.Equal(t, run(), run())
}

func TestEngram_PatchMergesFields(t *testing.T) {
	repo := newFakeRepo()
	repo.getFn = func(_ context.Context, modelName, id string) (repository.Record, error) {
		require.Equal(t, "res-1", id)
		return repository.Record{"id": "res-1", "name": "old", "category": "note"}, nil
	}
	p := NewEngramProcessor(repo, zaptest.NewLogger(t))

	raw := []byte(`
kind: Engram
entries:
  - model: resource
    patch:
      id: res-1
      fields:
        name: renamed
`)
	handled, err := p.Process(context.Background(), engramEvent(), raw)
	require.NoError(t, err)
	assert.True(t, handled)

	resources := repo.upserts[model.ModelResource]
	require.Len(t, resources, 1)
	assert.Equal(t, "renamed", resources[0]["name"])
	assert.Equal(t, "note", resources[0]["category"], "untouched fields survive the patch")
}

func TestEngram_PatchMissingTargetFails(t *testing.T) {
	repo := newFakeRepo() // Get returns ErrNotFound by default
	p := NewEngramProcessor(repo, zaptest.NewLogger(t))

	raw := []byte("kind: Engram\nentries:\n  - model: resource\n    patch:\n      id: ghost\n      fields:\n        name: x\n")
	handled, err := p.Process(context.Background(), engramEvent(), raw)
	assert.True(t, handled)
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEngram_AssociationAppendsEdge(t *testing.T) {
	repo := newFakeRepo()
	repo.getFn = func(_ context.Context, _ string, id string) (repository.Record, error) {
		return repository.Record{"id": id, "graph_paths": json.RawMessage(`[{"dst":"existing","rel_type":"mentions","weight":1}]`)}, nil
	}
	p := NewEngramProcessor(repo, zaptest.NewLogger(t))

	raw := []byte(`
kind: Engram
associations:
  - src_id: res-1
    dst: topic/launch
    rel_type: discusses
    weight: 0.9
`)
	handled, err := p.Process(context.Background(), engramEvent(), raw)
	require.NoError(t, err)
	assert.True(t, handled)

	resources := repo.upserts[model.ModelResource]
	require.Len(t, resources, 1)

	var edges []model.InlineEdge
	require.NoError(t, json.Unmarshal(resources[0]["graph_paths"].(json.RawMessage), &edges))
	require.Len(t, edges, 2)
	assert.Equal(t, "existing", edges[0].Dst)
	assert.Equal(t, "topic/launch", edges[1].Dst)
	assert.Equal(t, "discusses", edges[1].RelType)
	assert.InDelta(t, 0.9, edges[1].Weight, 1e-9)
}

func TestEngram_EmptyEntryRejected(t *testing.T) {
	p := NewEngramProcessor(newFakeRepo(), zaptest.NewLogger(t))
	raw := []byte("kind: Engram\nentries:\n  - model: resource\n")
	handled, err := p.Process(context.Background(), engramEvent(), raw)
	assert.True(t, handled)
	require.Error(t, err)
	assert.ErrorIs(t, err, errEmptyEntry)
}
