package state

import "sync"

// MemStore is an in-process Store backed by a map, used by unit tests and
// by ShareManager/SessionSupervisor property tests (spec §8) where spinning
// up a real file and flock per test would be needlessly slow. It satisfies
// the same Store contract as FileStore. The daemon always constructs a
// FileStore; no configuration key selects MemStore.
type MemStore struct {
	mu  sync.Mutex
	doc Document
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) WithLock(fn func(*Document) (*Document, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newDoc, err := fn(&s.doc)
	if err != nil {
		return err
	}
	if newDoc != nil {
		s.doc = *newDoc
	}
	return nil
}

func (s *MemStore) GetDaemon() (*Daemon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Daemon == nil {
		return nil, nil
	}
	cp := *s.doc.Daemon
	return &cp, nil
}

func (s *MemStore) SetDaemon(d Daemon) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		doc.Daemon = &d
		return doc, nil
	})
}

func (s *MemStore) ClearDaemon() error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		doc.Daemon = nil
		return doc, nil
	})
}

func (s *MemStore) ListSessions() ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.doc.Sessions))
	copy(out, s.doc.Sessions)
	return out, nil
}

func (s *MemStore) FindSessionByName(name string) (*Session, error) {
	sessions, _ := s.ListSessions()
	for i := range sessions {
		if sessions[i].Name == name {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

func (s *MemStore) FindSessionByDir(dir string) (*Session, error) {
	sessions, _ := s.ListSessions()
	for i := range sessions {
		if sessions[i].Dir == dir {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

func (s *MemStore) AddSession(sess Session) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		doc.Sessions = upsertSession(doc.Sessions, sess)
		return doc, nil
	})
}

func (s *MemStore) RemoveSession(name string) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		out := doc.Sessions[:0:0]
		for _, sess := range doc.Sessions {
			if sess.Name != name {
				out = append(out, sess)
			}
		}
		doc.Sessions = out
		return doc, nil
	})
}

func (s *MemStore) ListShares() ([]Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Share, len(s.doc.Shares))
	copy(out, s.doc.Shares)
	return out, nil
}

func (s *MemStore) GetShare(token string) (*Share, error) {
	shares, _ := s.ListShares()
	for i := range shares {
		if shares[i].Token == token {
			return &shares[i], nil
		}
	}
	return nil, nil
}

func (s *MemStore) AddShare(sh Share) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		doc.Shares = append(doc.Shares, sh)
		return doc, nil
	})
}

func (s *MemStore) RemoveShare(token string) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		out := doc.Shares[:0:0]
		for _, sh := range doc.Shares {
			if sh.Token != token {
				out = append(out, sh)
			}
		}
		doc.Shares = out
		return doc, nil
	})
}

func (s *MemStore) ListPushSubscriptions() ([]PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PushSubscription, len(s.doc.PushSubscriptions))
	copy(out, s.doc.PushSubscriptions)
	return out, nil
}

func (s *MemStore) AddPushSubscription(p PushSubscription) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		doc.PushSubscriptions = append(doc.PushSubscriptions, p)
		return doc, nil
	})
}

func (s *MemStore) RemovePushSubscription(id string) error {
	return s.WithLock(func(doc *Document) (*Document, error) {
		out := doc.PushSubscriptions[:0:0]
		for _, p := range doc.PushSubscriptions {
			if p.ID != id {
				out = append(out, p)
			}
		}
		doc.PushSubscriptions = out
		return doc, nil
	})
}

func (s *MemStore) GetNextPort(basePort int) (int, error) {
	sessions, _ := s.ListSessions()
	return nextPort(sessions, basePort), nil
}

func (s *MemStore) GetNextPath(basePath, name string) (string, error) {
	return canonicalPath(basePath, name), nil
}

var _ Store = (*MemStore)(nil)
