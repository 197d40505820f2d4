package execdata

import (
	"github.com/coverage-analysis/pkg/model"
)

// SessionGroup is the merged execution data of one session.
type SessionGroup struct {
	Session model.Session
	Records []*model.ExecutionRecord
}

// SessionStore is a Visitor that groups records by session in arrival
// order. Repeated session ids are merged (earliest start, latest dump) and
// repeated records of one unit within a session have their hits ORed.
type SessionStore struct {
	groups []*SessionGroup
	index  map[string]int
	units  []map[model.UnitID]*model.ExecutionRecord
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{index: make(map[string]int)}
}

func (s *SessionStore) group(id string) int {
	if i, ok := s.index[id]; ok {
		return i
	}
	i := len(s.groups)
	s.index[id] = i
	s.groups = append(s.groups, &SessionGroup{Session: model.Session{ID: id}})
	s.units = append(s.units, make(map[model.UnitID]*model.ExecutionRecord))
	return i
}

// VisitSession records session metadata.
func (s *SessionStore) VisitSession(info model.Session) error {
	_, known := s.index[info.ID]
	g := s.groups[s.group(info.ID)]
	if !known || g.Session.Start.IsZero() {
		g.Session = info
		return nil
	}
	if info.Start.Before(g.Session.Start) {
		g.Session.Start = info.Start
	}
	if info.Dump.After(g.Session.Dump) {
		g.Session.Dump = info.Dump
	}
	return nil
}

// VisitExecution adds a record to its session.
func (s *SessionStore) VisitExecution(rec *model.ExecutionRecord) error {
	i := s.group(rec.SessionID)
	if existing, ok := s.units[i][rec.ID]; ok {
		return existing.Merge(rec)
	}
	// the stored record is mutated by later merges
	own := *rec
	if rec.Probes != nil {
		own.Probes = rec.Probes.Clone()
	}
	s.units[i][rec.ID] = &own
	s.groups[i].Records = append(s.groups[i].Records, &own)
	return nil
}

// Groups returns the sessions in arrival order.
func (s *SessionStore) Groups() []*SessionGroup {
	return s.groups
}

// Sessions returns the session metadata in arrival order.
func (s *SessionStore) Sessions() []model.Session {
	out := make([]model.Session, len(s.groups))
	for i, g := range s.groups {
		out[i] = g.Session
	}
	return out
}

// Len returns the number of sessions.
func (s *SessionStore) Len() int {
	return len(s.groups)
}

// Reset discards all data.
func (s *SessionStore) Reset() {
	s.groups = nil
	s.units = nil
	s.index = make(map[string]int)
}
