package ledger

import "sync"

// MemoryLedger keeps records in process memory. Each Append is a single
// critical section, so concurrent sessions never interleave a record.
type MemoryLedger struct {
	mu      sync.Mutex
	records []*ExecutionRecord
	closed  bool
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(record *ExecutionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.records = append(l.records, record.clone())
	return nil
}

// Records returns a copy of every record in append order.
func (l *MemoryLedger) Records() []ExecutionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ExecutionRecord, len(l.records))
	for i, r := range l.records {
		out[i] = *r.clone()
	}
	return out
}

// Session returns the records of one session in append order.
func (l *MemoryLedger) Session(sessionID string) []ExecutionRecord {
	var out []ExecutionRecord
	for _, r := range l.Records() {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

func (l *MemoryLedger) Failures() uint64 { return 0 }

func (l *MemoryLedger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
