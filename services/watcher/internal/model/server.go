package model

import "encoding/json"

// Repository points at the source code backing a published server.
type Repository struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

// Server is one service descriptor as published in the MCP registry.
// Name is the unique key within a snapshot; descriptors are treated as
// immutable once they are part of a snapshot.
type Server struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Repository  Repository      `json:"repository"`
	Packages    json.RawMessage `json:"packages,omitempty"`
	Remotes     json.RawMessage `json:"remotes,omitempty"`
}

// Equal reports whether two descriptors carry identical content.
func (s Server) Equal(other Server) bool {
	return s.Name == other.Name &&
		s.Description == other.Description &&
		s.Version == other.Version &&
		s.Repository == other.Repository &&
		string(s.Packages) == string(other.Packages) &&
		string(s.Remotes) == string(other.Remotes)
}
