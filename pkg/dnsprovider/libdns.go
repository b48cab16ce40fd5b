package dnsprovider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/libdns/cloudflare"
	"github.com/libdns/digitalocean"
	"github.com/libdns/libdns"
)

// LibDNSProvider is the subset of libdns interfaces the adapter needs.
type LibDNSProvider interface {
	libdns.RecordGetter
	libdns.RecordAppender
	libdns.RecordSetter
	libdns.RecordDeleter
}

// LibDNS adapts a libdns provider to Client. Zones are addressed by Name.
// libdns has no notion of proxying, comments or tags; those fields are
// dropped on write and empty on read.
type LibDNS struct {
	provider LibDNSProvider
	logger   *slog.Logger
}

// NewLibDNS wraps provider.
func NewLibDNS(provider LibDNSProvider, logger *slog.Logger) *LibDNS {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LibDNS{provider: provider, logger: logger}
}

// NewLibDNSCloudflare returns a LibDNS client backed by libdns/cloudflare.
func NewLibDNSCloudflare(apiToken string, logger *slog.Logger) (*LibDNS, error) {
	if apiToken == "" {
		return nil, ErrMissingCredentials
	}
	return NewLibDNS(&cloudflare.Provider{APIToken: apiToken}, logger), nil
}

// NewLibDNSDigitalOcean returns a LibDNS client backed by libdns/digitalocean.
func NewLibDNSDigitalOcean(apiToken string, logger *slog.Logger) (*LibDNS, error) {
	if apiToken == "" {
		return nil, ErrMissingCredentials
	}
	return NewLibDNS(&digitalocean.Provider{APIToken: apiToken}, logger), nil
}

func zoneFQDN(z Zone) string {
	return strings.TrimSuffix(strings.ToLower(z.Name), ".") + "."
}

func toLibDNS(rec Record, zone string) libdns.Record {
	name := libdns.RelativeName(strings.ToLower(rec.Name), zone)
	if name == "" {
		name = "@"
	}
	out := libdns.Record{
		ID:    rec.ID,
		Type:  strings.ToUpper(rec.Type),
		Name:  name,
		Value: rec.Content,
		TTL:   time.Duration(max(rec.TTL, 0)) * time.Second,
	}
	if rec.Priority != nil {
		out.Priority = uint(*rec.Priority)
	}
	return out
}

func fromLibDNS(r libdns.Record, zone string) Record {
	out := Record{
		ID:      r.ID,
		Type:    r.Type,
		Name:    strings.TrimSuffix(libdns.AbsoluteName(r.Name, zone), "."),
		Content: r.Value,
		TTL:     int(r.TTL / time.Second),
	}
	if r.Type == "MX" || r.Type == "SRV" || r.Type == "URI" || r.Type == "HTTPS" {
		p := uint16(r.Priority)
		out.Priority = &p
	}
	return out
}

func (l *LibDNS) wrap(op string, err error) error {
	return &ProviderError{Op: op, Err: fmt.Errorf("libdns: %w", err)}
}

// CreateRecord appends rec to the zone.
func (l *LibDNS) CreateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	const op = "create record"
	if zone.Name == "" {
		return Record{}, &ProviderError{Op: op, Err: ErrMissingZone}
	}
	if err := validateRecord(op, rec); err != nil {
		return Record{}, err
	}
	z := zoneFQDN(zone)
	created, err := l.provider.AppendRecords(ctx, z, []libdns.Record{toLibDNS(rec, z)})
	if err != nil {
		return Record{}, l.wrap(op, err)
	}
	if len(created) == 0 {
		return Record{}, &ProviderError{Op: op, Status: 502, Message: "provider returned no record"}
	}
	return fromLibDNS(created[0], z), nil
}

// UpdateRecord sets the record identified by rec.ID.
func (l *LibDNS) UpdateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	const op = "update record"
	if zone.Name == "" {
		return Record{}, &ProviderError{Op: op, Err: ErrMissingZone}
	}
	if rec.ID == "" {
		return Record{}, &ProviderError{Op: op, Err: ErrMissingRecordID}
	}
	if err := validateRecord(op, rec); err != nil {
		return Record{}, err
	}
	z := zoneFQDN(zone)
	set, err := l.provider.SetRecords(ctx, z, []libdns.Record{toLibDNS(rec, z)})
	if err != nil {
		return Record{}, l.wrap(op, err)
	}
	if len(set) == 0 {
		return Record{}, &ProviderError{Op: op, Status: 502, Message: "provider returned no record"}
	}
	return fromLibDNS(set[0], z), nil
}

// DeleteRecord removes record id. libdns providers disagree on how they
// report a missing record, so presence is checked first.
func (l *LibDNS) DeleteRecord(ctx context.Context, zone Zone, id string) error {
	const op = "delete record"
	if zone.Name == "" {
		return &ProviderError{Op: op, Err: ErrMissingZone}
	}
	if id == "" {
		return &ProviderError{Op: op, Err: ErrMissingRecordID}
	}
	z := zoneFQDN(zone)
	records, err := l.provider.GetRecords(ctx, z)
	if err != nil {
		return l.wrap(op, err)
	}
	for _, r := range records {
		if r.ID != id {
			continue
		}
		if _, err := l.provider.DeleteRecords(ctx, z, []libdns.Record{r}); err != nil {
			return l.wrap(op, err)
		}
		return nil
	}
	l.logger.DebugContext(ctx, "record already absent", slog.String("record_id", id), slog.String("zone", z))
	return nil
}

// ListRecords returns the zone's records matching filter.
func (l *LibDNS) ListRecords(ctx context.Context, zone Zone, filter Filter) ([]Record, error) {
	const op = "list records"
	if zone.Name == "" {
		return nil, &ProviderError{Op: op, Err: ErrMissingZone}
	}
	z := zoneFQDN(zone)
	records, err := l.provider.GetRecords(ctx, z)
	if err != nil {
		return nil, l.wrap(op, err)
	}
	wantName := strings.TrimSuffix(strings.ToLower(filter.Name), ".")
	out := make([]Record, 0, len(records))
	for _, r := range records {
		rec := fromLibDNS(r, z)
		if filter.Type != "" && !strings.EqualFold(rec.Type, filter.Type) {
			continue
		}
		if wantName != "" && !strings.EqualFold(rec.Name, wantName) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
