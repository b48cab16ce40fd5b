package dnsprovider

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Client. It backs DNS_PROVIDER=memory for local
// development and is used as a fake in tests.
type Memory struct {
	mu      sync.Mutex
	seq     int
	records map[string][]Record // zone key -> records
	fail    map[string][]error  // op -> queued errors
	calls   []string
	now     func() time.Time
}

// NewMemory returns an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string][]Record),
		fail:    make(map[string][]error),
		now:     time.Now,
	}
}

// FailNext makes the next call of op ("create", "update", "delete", "list") return err.
// Multiple calls queue errors in order.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = append(m.fail[op], err)
}

// Calls returns the operations performed so far, e.g. "create:TXT:name".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// Records returns a snapshot of zone's records.
func (m *Memory) Records(zone Zone) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records[zoneKey(zone)])
}

// Seed inserts rec without recording a call. An empty ID gets one assigned.
func (m *Memory) Seed(zone Zone, rec Record) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		m.seq++
		rec.ID = fmt.Sprintf("rec-%d", m.seq)
	}
	k := zoneKey(zone)
	m.records[k] = append(m.records[k], rec)
	return rec
}

func zoneKey(z Zone) string {
	if z.ID != "" {
		return z.ID
	}
	return strings.TrimSuffix(strings.ToLower(z.Name), ".")
}

func (m *Memory) injected(op string) error {
	q := m.fail[op]
	if len(q) == 0 {
		return nil
	}
	m.fail[op] = q[1:]
	return q[0]
}

func canonical(rec Record) Record {
	rec.Type = strings.ToUpper(rec.Type)
	rec.Name = strings.TrimSuffix(strings.ToLower(rec.Name), ".")
	if rec.TTL <= 0 {
		rec.TTL = 1
	}
	return rec
}

func (m *Memory) CreateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "create:"+strings.ToUpper(rec.Type)+":"+rec.Name)
	if err := m.injected("create"); err != nil {
		return Record{}, err
	}
	if zoneKey(zone) == "" {
		return Record{}, &ProviderError{Op: "create record", Err: ErrMissingZone}
	}
	if err := validateRecord("create record", rec); err != nil {
		return Record{}, err
	}
	m.seq++
	rec = canonical(rec)
	rec.ID = fmt.Sprintf("rec-%d", m.seq)
	rec.CreatedAt = m.now().UTC()
	rec.ModifiedAt = rec.CreatedAt
	k := zoneKey(zone)
	m.records[k] = append(m.records[k], rec)
	return rec, nil
}

func (m *Memory) UpdateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "update:"+rec.ID)
	if err := m.injected("update"); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		return Record{}, &ProviderError{Op: "update record", Err: ErrMissingRecordID}
	}
	k := zoneKey(zone)
	for i, r := range m.records[k] {
		if r.ID == rec.ID {
			rec = canonical(rec)
			rec.CreatedAt = r.CreatedAt
			rec.ModifiedAt = m.now().UTC()
			m.records[k][i] = rec
			return rec, nil
		}
	}
	return Record{}, &ProviderError{Op: "update record", Status: 404, Code: cfCodeRecordNotFound, Message: "Record does not exist."}
}

func (m *Memory) DeleteRecord(ctx context.Context, zone Zone, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete:"+id)
	if err := m.injected("delete"); err != nil {
		return err
	}
	k := zoneKey(zone)
	m.records[k] = slices.DeleteFunc(m.records[k], func(r Record) bool { return r.ID == id })
	return nil
}

func (m *Memory) ListRecords(ctx context.Context, zone Zone, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "list")
	if err := m.injected("list"); err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range m.records[zoneKey(zone)] {
		if filter.Type != "" && !strings.EqualFold(r.Type, filter.Type) {
			continue
		}
		if filter.Name != "" && !strings.EqualFold(r.Name, strings.TrimSuffix(filter.Name, ".")) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
