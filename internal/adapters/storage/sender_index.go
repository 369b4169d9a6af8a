package storage

import "sync"

const senderIndexCap = 65536

type senderEntry struct {
	sender  string
	subject string
}

// senderIndex is a bounded in-memory map from email id to envelope
// metadata. Entries are evicted wholesale when the cap is hit, which
// is acceptable because entries are only consulted between NoteEmail
// and the classification upsert moments later.
type senderIndex struct {
	mu      sync.Mutex
	entries map[string]senderEntry
}

func (i *senderIndex) init() {
	i.entries = make(map[string]senderEntry)
}

func (i *senderIndex) put(emailID, sender, subject string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.entries) >= senderIndexCap {
		i.entries = make(map[string]senderEntry)
	}
	i.entries[emailID] = senderEntry{sender: sender, subject: subject}
}

func (i *senderIndex) get(emailID string) (sender, subject string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e := i.entries[emailID]
	return e.sender, e.subject
}
