package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

// Builder turns a fetched server list into an immutable, content-hashed
// snapshot.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Create builds a snapshot from a server list. Servers with duplicate names
// keep the last occurrence, matching how the registry resolves duplicates.
func (b *Builder) Create(servers []model.Server) (*model.Snapshot, error) {
	byName := make(map[string]model.Server, len(servers))
	for _, s := range servers {
		if s.Name == "" {
			return nil, fmt.Errorf("descriptor with empty name (version %q)", s.Version)
		}
		byName[s.Name] = s
	}

	hash, err := contentHash(byName)
	if err != nil {
		return nil, fmt.Errorf("failed to hash snapshot: %w", err)
	}

	return &model.Snapshot{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		ServerCount: len(byName),
		Hash:        hash,
		Servers:     byName,
	}, nil
}

// HasChanges is the cheap O(1) comparison the poller uses to skip diffing.
// It reports false iff the two snapshots are content-identical.
func HasChanges(a, b *model.Snapshot) bool {
	return a.Hash != b.Hash
}

// contentHash computes a SHA-256 digest over the name-sorted canonical JSON
// serialization of the descriptor set. The digest is invariant to the order
// servers were fetched in.
func contentHash(servers map[string]model.Server) (string, error) {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		data, err := json.Marshal(servers[name])
		if err != nil {
			return "", fmt.Errorf("failed to marshal descriptor %q: %w", name, err)
		}
		h.Write(data)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
