package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

func server(name, version, desc string) model.Server {
	return model.Server{
		Name:        name,
		Description: desc,
		Version:     version,
		Repository:  model.Repository{URL: "https://github.com/acme/" + name, Source: "github"},
	}
}

func TestCreateHashIsOrderInvariant(t *testing.T) {
	b := NewBuilder()

	forward := []model.Server{
		server("a", "1.0.0", "first"),
		server("b", "2.0.0", "second"),
		server("c", "3.0.0", "third"),
	}
	reversed := []model.Server{forward[2], forward[0], forward[1]}

	snapA, err := b.Create(forward)
	require.NoError(t, err)
	snapB, err := b.Create(reversed)
	require.NoError(t, err)

	assert.Equal(t, snapA.Hash, snapB.Hash)
	assert.False(t, HasChanges(snapA, snapB))
	assert.NotEqual(t, snapA.ID, snapB.ID)
}

func TestCreateHashReflectsContent(t *testing.T) {
	b := NewBuilder()

	base, err := b.Create([]model.Server{server("a", "1.0.0", "first")})
	require.NoError(t, err)

	tests := []struct {
		name    string
		servers []model.Server
	}{
		{"changed version", []model.Server{server("a", "1.0.1", "first")}},
		{"changed description", []model.Server{server("a", "1.0.0", "other")}},
		{"added server", []model.Server{server("a", "1.0.0", "first"), server("b", "1.0.0", "second")}},
		{"removed server", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := b.Create(tt.servers)
			require.NoError(t, err)
			assert.NotEqual(t, base.Hash, snap.Hash)
			assert.True(t, HasChanges(base, snap))
		})
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	b := NewBuilder()
	_, err := b.Create([]model.Server{{Version: "1.0.0"}})
	require.Error(t, err)
}

func TestCreateCountsUniqueNames(t *testing.T) {
	b := NewBuilder()
	snap, err := b.Create([]model.Server{
		server("a", "1.0.0", "first"),
		server("a", "1.0.1", "first again"),
		server("b", "1.0.0", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ServerCount)
	// last occurrence wins
	assert.Equal(t, "1.0.1", snap.Servers["a"].Version)
}
