package httpstatus

import (
	"time"

	"github.com/dcshock/defsync/pipeline"
)

// StageView is the JSON form of one stage state.
type StageView struct {
	Available  bool      `json:"available"`
	RunID      string    `json:"run_id,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitzero"`
	Seq        uint64    `json:"seq"`
	Version    string    `json:"version,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Categories int       `json:"categories,omitempty"`
}

// PublicationView is the JSON form of the last publication.
type PublicationView struct {
	MessageID  string    `json:"message_id"`
	Version    string    `json:"version"`
	Digest     string    `json:"digest"`
	Categories int       `json:"categories"`
	Attempts   int       `json:"attempts"`
	At         time.Time `json:"at"`
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	Sync          StageView        `json:"sync"`
	Ingest        StageView        `json:"ingest"`
	Connected     bool             `json:"connected"`
	LastPublished *PublicationView `json:"last_published,omitempty"`
}

// NewSnapshot converts a pipeline status into its JSON view.
func NewSnapshot(st pipeline.Status) Snapshot {
	snap := Snapshot{
		Sync: StageView{
			Available:  st.Sync.Available,
			RunID:      st.Sync.RunID,
			ObservedAt: st.Sync.ObservedAt,
			Seq:        st.Sync.Seq,
			Version:    string(st.Sync.Value),
		},
		Ingest: StageView{
			Available:  st.Ingest.Available,
			RunID:      st.Ingest.RunID,
			ObservedAt: st.Ingest.ObservedAt,
			Seq:        st.Ingest.Seq,
		},
		Connected: st.Connected,
	}
	if set := st.Ingest.Value; st.Ingest.Has && set != nil {
		snap.Ingest.Version = string(set.Version)
		snap.Ingest.Digest = set.Digest
		snap.Ingest.Categories = set.Len()
	}
	if p := st.LastPublished; p != nil {
		snap.LastPublished = &PublicationView{
			MessageID:  p.MessageID,
			Version:    string(p.Version),
			Digest:     p.Digest,
			Categories: p.Categories,
			Attempts:   p.Attempts,
			At:         p.At,
		}
	}
	return snap
}
