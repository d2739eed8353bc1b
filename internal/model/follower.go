// Package model holds the types shared by the follower pipeline.
package model

// Follower is a user following the watched channel. ID is the identity;
// Name is display metadata and may change between snapshots.
type Follower struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IDs returns the ids of fs in order.
func IDs(fs []Follower) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.ID)
	}
	return out
}
