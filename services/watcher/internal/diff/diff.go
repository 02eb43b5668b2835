package diff

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcpwatch/mcpwatch/services/watcher/internal/model"
)

// Result groups the changes found between two snapshots. Each list is
// sorted by server name so results are deterministic.
type Result struct {
	NewServers     []model.Change
	UpdatedServers []model.Change
	RemovedServers []model.Change
}

// Empty reports whether the comparison found no changes at all.
func (r Result) Empty() bool {
	return len(r.NewServers) == 0 && len(r.UpdatedServers) == 0 && len(r.RemovedServers) == 0
}

// All returns every change in one slice, new first, then updated, then
// removed.
func (r Result) All() []model.Change {
	out := make([]model.Change, 0, len(r.NewServers)+len(r.UpdatedServers)+len(r.RemovedServers))
	out = append(out, r.NewServers...)
	out = append(out, r.UpdatedServers...)
	out = append(out, r.RemovedServers...)
	return out
}

// Compare computes the change set between two snapshots. Names present in
// both with identical content produce no change at all; the diff must stay
// silent on unchanged entries. Changes are attributed to the new snapshot.
func Compare(old, new *model.Snapshot) Result {
	var res Result
	now := time.Now().UTC()

	for name, curr := range new.Servers {
		prev, existed := old.Servers[name]
		if !existed {
			res.NewServers = append(res.NewServers, model.Change{
				ID:         uuid.NewString(),
				SnapshotID: new.ID,
				ServerName: name,
				Type:       model.ChangeTypeNew,
				NewVersion: curr.Version,
				DetectedAt: now,
			})
			continue
		}
		if prev.Equal(curr) {
			continue
		}
		res.UpdatedServers = append(res.UpdatedServers, model.Change{
			ID:              uuid.NewString(),
			SnapshotID:      new.ID,
			ServerName:      name,
			Type:            model.ChangeTypeUpdated,
			PreviousVersion: prev.Version,
			NewVersion:      curr.Version,
			Breaking:        isBreaking(prev.Version, curr.Version),
			FieldChanges:    fieldChanges(prev, curr),
			DetectedAt:      now,
		})
	}

	for name, prev := range old.Servers {
		if _, exists := new.Servers[name]; !exists {
			res.RemovedServers = append(res.RemovedServers, model.Change{
				ID:              uuid.NewString(),
				SnapshotID:      new.ID,
				ServerName:      name,
				Type:            model.ChangeTypeRemoved,
				PreviousVersion: prev.Version,
				DetectedAt:      now,
			})
		}
	}

	sortByName(res.NewServers)
	sortByName(res.UpdatedServers)
	sortByName(res.RemovedServers)
	return res
}

// fieldChanges records one entry per differing top-level attribute.
// Attributes that did not change produce no entry.
func fieldChanges(prev, curr model.Server) []model.FieldChange {
	var changes []model.FieldChange

	add := func(field, old, new string) {
		if old != new {
			changes = append(changes, model.FieldChange{Field: field, OldValue: old, NewValue: new})
		}
	}

	add("description", prev.Description, curr.Description)
	add("version", prev.Version, curr.Version)
	add("repository.url", prev.Repository.URL, curr.Repository.URL)
	add("repository.source", prev.Repository.Source, curr.Repository.Source)
	add("packages", string(prev.Packages), string(curr.Packages))
	add("remotes", string(prev.Remotes), string(curr.Remotes))

	return changes
}

// isBreaking flags a major version bump. This is a heuristic only: it has
// no semver-range awareness and must not be treated as a guaranteed
// classification.
func isBreaking(prevVersion, currVersion string) bool {
	prevMajor, okPrev := majorVersion(prevVersion)
	currMajor, okCurr := majorVersion(currVersion)
	return okPrev && okCurr && currMajor > prevMajor
}

func majorVersion(v string) (int, bool) {
	v = strings.TrimPrefix(v, "v")
	head, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return n, true
}

func sortByName(changes []model.Change) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ServerName < changes[j].ServerName
	})
}
