package model

import "time"

// Snapshot is a hashed, point-in-time capture of the full registry content.
// Never mutated after creation; retention/pruning is the storage layer's job.
type Snapshot struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	ServerCount int               `json:"server_count"`
	Hash        string            `json:"hash"`
	Servers     map[string]Server `json:"servers"`
}
