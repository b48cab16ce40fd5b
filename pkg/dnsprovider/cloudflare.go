package dnsprovider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
)

// Returned with 404 when the record id does not exist in the zone.
const cfCodeRecordNotFound = 81044

// Credentials for the Cloudflare API. Either APIToken, or APIKey with APIEmail.
type Credentials struct {
	APIToken string
	APIKey   string
	APIEmail string
}

func (c Credentials) LogValue() slog.Value {
	mode := "none"
	switch {
	case c.APIToken != "":
		mode = "token"
	case c.APIKey != "":
		mode = "key"
	}
	return slog.GroupValue(slog.String("auth", mode), slog.String("email", c.APIEmail))
}

func (c Credentials) valid() bool {
	return c.APIToken != "" || (c.APIKey != "" && c.APIEmail != "")
}

// CloudflareOption configures the Cloudflare client.
type CloudflareOption func(*Cloudflare)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) CloudflareOption {
	return func(c *Cloudflare) {
		c.opts = append(c.opts, cloudflare.BaseURL(strings.TrimRight(u, "/")))
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
// Default: http.Client with a 30 second timeout.
func WithHTTPClient(hc *http.Client) CloudflareOption {
	return func(c *Cloudflare) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Default: the
// cloudflare-go default of 4.
func WithRateLimit(rps float64) CloudflareOption {
	return func(c *Cloudflare) {
		c.opts = append(c.opts, cloudflare.UsingRateLimit(rps))
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) CloudflareOption {
	return func(c *Cloudflare) {
		c.logger = l
	}
}

// Cloudflare is a Client backed by the Cloudflare v4 API through cloudflare-go.
// Retries are left to NewRetrying.
type Cloudflare struct {
	api    *cloudflare.API
	http   *http.Client
	opts   []cloudflare.Option
	logger *slog.Logger
}

// NewCloudflare creates a Cloudflare client.
func NewCloudflare(creds Credentials, opts ...CloudflareOption) (*Cloudflare, error) {
	if !creds.valid() {
		return nil, ErrMissingCredentials
	}
	c := &Cloudflare{
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	cfOpts := append([]cloudflare.Option{
		cloudflare.HTTPClient(c.http),
		cloudflare.UsingRetryPolicy(0, 0, 0),
	}, c.opts...)

	var err error
	if creds.APIToken != "" {
		c.api, err = cloudflare.NewWithAPIToken(creds.APIToken, cfOpts...)
	} else {
		c.api, err = cloudflare.New(creds.APIKey, creds.APIEmail, cfOpts...)
	}
	if err != nil {
		return nil, errors.Join(ErrMissingCredentials, err)
	}
	return c, nil
}

func proxiedFlag(typ string, proxied bool) *bool {
	// Only A, AAAA and CNAME can be proxied.
	switch typ {
	case "A", "AAAA", "CNAME":
		return &proxied
	}
	return nil
}

func ttlOf(rec Record) int {
	if rec.TTL <= 0 {
		return 1
	}
	return rec.TTL
}

func fromCF(r cloudflare.DNSRecord) Record {
	return Record{
		ID:         r.ID,
		Type:       r.Type,
		Name:       r.Name,
		Content:    r.Content,
		TTL:        r.TTL,
		Proxied:    r.Proxied != nil && *r.Proxied,
		Priority:   r.Priority,
		Comment:    r.Comment,
		Tags:       r.Tags,
		CreatedAt:  r.CreatedOn,
		ModifiedAt: r.ModifiedOn,
	}
}

// CreateRecord creates rec in zone.
func (c *Cloudflare) CreateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	const op = "create record"
	if zone.ID == "" {
		return Record{}, &ProviderError{Op: op, Err: ErrMissingZone}
	}
	if err := validateRecord(op, rec); err != nil {
		return Record{}, err
	}
	typ := strings.ToUpper(rec.Type)

	start := time.Now()
	out, err := c.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zone.ID), cloudflare.CreateDNSRecordParams{
		Type:     typ,
		Name:     strings.TrimSuffix(rec.Name, "."),
		Content:  rec.Content,
		TTL:      ttlOf(rec),
		Proxied:  proxiedFlag(typ, rec.Proxied),
		Priority: rec.Priority,
		Comment:  rec.Comment,
		Tags:     rec.Tags,
	})
	c.trace(ctx, op, start, err)
	if err != nil {
		return Record{}, providerError(op, err)
	}
	return fromCF(out), nil
}

// UpdateRecord overwrites the record rec.ID in zone.
func (c *Cloudflare) UpdateRecord(ctx context.Context, zone Zone, rec Record) (Record, error) {
	const op = "update record"
	if zone.ID == "" {
		return Record{}, &ProviderError{Op: op, Err: ErrMissingZone}
	}
	if rec.ID == "" {
		return Record{}, &ProviderError{Op: op, Err: ErrMissingRecordID}
	}
	if err := validateRecord(op, rec); err != nil {
		return Record{}, err
	}
	typ := strings.ToUpper(rec.Type)
	comment := rec.Comment

	start := time.Now()
	out, err := c.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zone.ID), cloudflare.UpdateDNSRecordParams{
		ID:       rec.ID,
		Type:     typ,
		Name:     strings.TrimSuffix(rec.Name, "."),
		Content:  rec.Content,
		TTL:      ttlOf(rec),
		Proxied:  proxiedFlag(typ, rec.Proxied),
		Priority: rec.Priority,
		Comment:  &comment,
		Tags:     rec.Tags,
	})
	c.trace(ctx, op, start, err)
	if err != nil {
		return Record{}, providerError(op, err)
	}
	return fromCF(out), nil
}

// DeleteRecord removes record id from zone. Only Cloudflare's "record
// does not exist" answer counts as success; any other 404, such as an
// unknown zone, is an error.
func (c *Cloudflare) DeleteRecord(ctx context.Context, zone Zone, id string) error {
	const op = "delete record"
	if zone.ID == "" {
		return &ProviderError{Op: op, Err: ErrMissingZone}
	}
	if id == "" {
		return &ProviderError{Op: op, Err: ErrMissingRecordID}
	}

	start := time.Now()
	err := c.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zone.ID), id)
	c.trace(ctx, op, start, err)
	if err == nil {
		return nil
	}
	pe := providerError(op, err)
	if pe.Status == http.StatusNotFound && pe.Code == cfCodeRecordNotFound {
		c.logger.DebugContext(ctx, "record already absent", slog.String("record_id", id))
		return nil
	}
	return pe
}

// ListRecords returns every record in zone matching filter. cloudflare-go
// follows pagination.
func (c *Cloudflare) ListRecords(ctx context.Context, zone Zone, filter Filter) ([]Record, error) {
	const op = "list records"
	if zone.ID == "" {
		return nil, &ProviderError{Op: op, Err: ErrMissingZone}
	}

	start := time.Now()
	batch, _, err := c.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zone.ID), cloudflare.ListDNSRecordsParams{
		Type: strings.ToUpper(filter.Type),
		Name: strings.TrimSuffix(strings.ToLower(filter.Name), "."),
	})
	c.trace(ctx, op, start, err)
	if err != nil {
		return nil, providerError(op, err)
	}
	all := make([]Record, 0, len(batch))
	for _, r := range batch {
		all = append(all, fromCF(r))
	}
	return all, nil
}

func (c *Cloudflare) trace(ctx context.Context, op string, start time.Time, err error) {
	c.logger.DebugContext(ctx, "cloudflare api call",
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
}

// cfAPIError is implemented by every typed error cloudflare-go returns for
// a non-2xx answer.
type cfAPIError interface {
	error
	Type() cloudflare.ErrorType
	ErrorCodes() []int
	ErrorMessages() []string
}

var cfStatus = map[cloudflare.ErrorType]int{
	cloudflare.ErrorTypeRequest:        http.StatusBadRequest,
	cloudflare.ErrorTypeAuthentication: http.StatusForbidden,
	cloudflare.ErrorTypeAuthorization:  http.StatusUnauthorized,
	cloudflare.ErrorTypeNotFound:       http.StatusNotFound,
	cloudflare.ErrorTypeRateLimit:      http.StatusTooManyRequests,
	cloudflare.ErrorTypeService:        http.StatusBadGateway,
}

// providerError maps a cloudflare-go error onto ProviderError. Errors
// without an HTTP answer keep Status 0.
func providerError(op string, err error) *ProviderError {
	pe := &ProviderError{Op: op, Err: err}

	var typed cfAPIError
	var plain *cloudflare.Error
	switch {
	case errors.As(err, &typed):
		pe.Status = cfStatus[typed.Type()]
		fillCodes(pe, typed.ErrorCodes(), typed.ErrorMessages())
	case errors.As(err, &plain):
		pe.Status = plain.StatusCode
		fillCodes(pe, plain.ErrorCodes, plain.ErrorMessages)
	default:
		return pe
	}

	if pe.Code == cfCodeRecordNotFound {
		pe.Status = http.StatusNotFound
	}
	if pe.Status < 300 {
		pe.Status = http.StatusBadGateway
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(pe.Status)
	}
	return pe
}

func fillCodes(pe *ProviderError, codes []int, msgs []string) {
	if len(codes) > 0 {
		pe.Code = codes[0]
	}
	msgs = slices.DeleteFunc(slices.Clone(msgs), func(m string) bool { return m == "" })
	pe.Message = strings.Join(msgs, "; ")
}
