package dnsprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

var (
	ErrMissingCredentials = errors.New("dnsprovider: missing credentials")
	ErrMissingZone        = errors.New("dnsprovider: zone id or name required")
	ErrMissingRecordID    = errors.New("dnsprovider: record id required")
	ErrInvalidRecord      = errors.New("dnsprovider: invalid record")
	ErrUnsupportedFilter  = errors.New("dnsprovider: unsupported filter")
)

// Zone identifies a hosted zone. Cloudflare addresses zones by ID,
// libdns providers by Name.
type Zone struct {
	ID   string
	Name string
}

func (z Zone) LogValue() slog.Value {
	return slog.GroupValue(slog.String("id", z.ID), slog.String("name", z.Name))
}

// Record is a DNS record as stored by the provider.
// Name is fully qualified without the trailing dot.
type Record struct {
	ID         string
	Type       string
	Name       string
	Content    string
	TTL        int // seconds; 1 means provider automatic
	Proxied    bool
	Priority   *uint16
	Comment    string
	Tags       []string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Filter narrows ListRecords. Empty fields match everything.
type Filter struct {
	Type string
	Name string
}

// Client is the DNS provider contract.
type Client interface {
	CreateRecord(ctx context.Context, zone Zone, rec Record) (Record, error)
	// UpdateRecord replaces the record identified by rec.ID.
	UpdateRecord(ctx context.Context, zone Zone, rec Record) (Record, error)
	// DeleteRecord removes a record. An absent record is not an error.
	DeleteRecord(ctx context.Context, zone Zone, id string) error
	ListRecords(ctx context.Context, zone Zone, filter Filter) ([]Record, error)
}

// ProviderError describes a failed provider call.
// Status is the HTTP status, or 0 for transport failures.
type ProviderError struct {
	Op      string
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("dnsprovider: %s: %v", e.Op, e.Err)
	case e.Code != 0:
		return fmt.Sprintf("dnsprovider: %s: status %d: %s (code %d)", e.Op, e.Status, e.Message, e.Code)
	default:
		return fmt.Sprintf("dnsprovider: %s: status %d: %s", e.Op, e.Status, e.Message)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether a retry may succeed: transport errors,
// 5xx and 429. Other 4xx responses are never temporary.
func (e *ProviderError) Temporary() bool {
	if e.Status == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, ErrMissingRecordID) &&
			!errors.Is(e.Err, ErrMissingZone) && !errors.Is(e.Err, ErrInvalidRecord)
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsTemporary reports whether err is a retryable *ProviderError.
func IsTemporary(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Temporary()
}

func validateRecord(op string, rec Record) error {
	if rec.Type == "" || rec.Name == "" || rec.Content == "" {
		return &ProviderError{Op: op, Message: "type, name and content are required", Err: ErrInvalidRecord}
	}
	return nil
}
