package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxcpp/go-mockdns"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/allocator"
	"github.com/dmitrymomot/provisioner/internal/api"
	"github.com/dmitrymomot/provisioner/internal/metrics"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/quota"
	"github.com/dmitrymomot/provisioner/internal/reconciler"
	"github.com/dmitrymomot/provisioner/internal/store/sqlite"
	"github.com/dmitrymomot/provisioner/internal/tasks"
	"github.com/dmitrymomot/provisioner/internal/verification"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
	"github.com/dmitrymomot/provisioner/pkg/health"
)

var (
	secret = []byte("api-test-secret-api-test-secret!")
	zone   = dnsprovider.Zone{ID: "zone-1", Name: "s.example"}
)

type enqueuer struct {
	mu    sync.Mutex
	names []string
}

func (e *enqueuer) Enqueue(_ context.Context, name string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	return nil
}

type env struct {
	srv  *api.Server
	dns  *mockdns.Resolver
	jobs *enqueuer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	plans := quota.Plans{
		Default: "free",
		Tiers: map[string]quota.Plan{
			"free": {
				model.KindCustomDomains: {Max: 3, Window: quota.WindowAll},
				model.KindShortLinks:    {Max: 3, Window: quota.WindowAll},
				model.KindDNSRecords:    {Max: 1, Window: quota.WindowAll},
				model.KindEmailAliases:  {Max: 2, Window: quota.WindowAll},
			},
		},
	}
	ledger := quota.New(plans, s)
	rec := reconciler.New(dnsprovider.NewMemory(), s)
	resolver := &mockdns.Resolver{Zones: map[string]mockdns.Zone{}}

	e := &env{dns: resolver, jobs: &enqueuer{}}
	e.srv = api.New(api.Services{
		Domains: verification.New(s, ledger, rec, resolver, verification.Config{
			SystemZone:         zone,
			MXHost:             "mx.s.example",
			SPFInclude:         "_spf.s.example",
			DMARCReportAddress: "dmarc@s.example",
		}),
		Links: allocator.NewLinks(s, ledger, rec, nil, allocator.LinksConfig{
			Zone:       zone,
			EdgeTarget: "edge.example.net",
		}),
		Aliases: allocator.NewAliases(s, ledger),
		Records: allocator.NewRecords(s, ledger, rec, zone),
		Usage:   ledger,
	}, api.Config{
		JWTSecret:      secret,
		JWTIssuer:      "provisioner",
		RequestTimeout: 5 * time.Second,
	},
		api.WithMetrics(metrics.New()),
		api.WithHealth(health.New(time.Second, nil)),
		api.WithEnqueuer(e.jobs),
	)
	return e
}

func token(t *testing.T, sub, role string, exp time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, api.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "provisioner",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(exp)),
		},
		Role: role,
		Plan: "free",
	}).SignedString(secret)
	require.NoError(t, err)
	return tok
}

type response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
}

func (e *env) do(t *testing.T, tok, method, path, body string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)

	var out response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func decodeData[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func TestAuthentication(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec, out := e.do(t, "", http.MethodGet, "/api/domains", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", out.Status)
	assert.Equal(t, "unauthenticated", out.Code)

	rec, out = e.do(t, token(t, "u1", "", -time.Minute), http.MethodGet, "/api/domains", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token expired", out.Message)

	rec, out = e.do(t, token(t, "", "admin", time.Hour), http.MethodGet, "/api/domains", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a token without subject identifies nobody")
	assert.Equal(t, "unauthenticated", out.Code)

	rec, out = e.do(t, token(t, "u1", "", time.Hour), http.MethodGet, "/api/domains", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", out.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestDomainLifecycle(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	u1 := token(t, "u1", "", time.Hour)

	rec, out := e.do(t, u1, http.MethodPost, "/api/domains", `{"name":"Example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, out.Message)
	type domainResult struct {
		Domain struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			VerificationKey string `json:"verification_key"`
			Ownership       string `json:"ownership"`
		} `json:"domain"`
		Verified bool                          `json:"verified"`
		Expected []verification.ExpectedRecord `json:"expected"`
	}
	created := decodeData[domainResult](t, out)
	assert.Equal(t, "example.com", created.Domain.Name)
	assert.Equal(t, "unverified", created.Domain.Ownership)
	require.NotEmpty(t, created.Domain.VerificationKey)
	path := "/api/domains/" + created.Domain.ID

	rec, out = e.do(t, u1, http.MethodPost, path+"/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeData[domainResult](t, out)
	assert.False(t, res.Verified)
	require.Len(t, res.Expected, 1)
	assert.Equal(t, "_verify.example.com", res.Expected[0].Name)

	e.dns.Zones["_verify.example.com."] = mockdns.Zone{TXT: []string{created.Domain.VerificationKey}}
	rec, out = e.do(t, u1, http.MethodPost, path+"/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeData[domainResult](t, out)
	assert.True(t, res.Verified)
	assert.Equal(t, "verified", res.Domain.Ownership)

	// Another account cannot see it.
	rec, out = e.do(t, token(t, "u2", "", time.Hour), http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out.Code)

	rec, out = e.do(t, u1, http.MethodGet, "/api/domains?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeData[struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		Next string `json:"next"`
	}](t, out)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.Next)

	rec, _ = e.do(t, u1, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = e.do(t, u1, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidBody(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	u1 := token(t, "u1", "", time.Hour)

	rec, out := e.do(t, u1, http.MethodPost, "/api/domains", `{"name":"example.com","extra":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", out.Code)

	rec, out = e.do(t, u1, http.MethodPost, "/api/domains", `{"name":"localhost"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation_failed", out.Code)
}

func TestShortLinkRedirect(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	u1 := token(t, "u1", "", time.Hour)

	rec, out := e.do(t, u1, http.MethodPost, "/api/links",
		`{"prefix":"go","slug":"promo","target_url":"https://example.org/landing","public":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, out.Message)

	rec, out = e.do(t, u1, http.MethodPost, "/api/links",
		`{"prefix":"go","slug":"secret","target_url":"https://example.org/private","password":"hunter2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, out.Message)
	link := decodeData[struct {
		Protected bool `json:"protected"`
	}](t, out)
	assert.True(t, link.Protected)

	get := func(target, password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Host = "go.s.example"
		if password != "" {
			req.Header.Set(api.PasswordHeader, password)
		}
		rec := httptest.NewRecorder()
		e.srv.ServeHTTP(rec, req)
		return rec
	}

	rec = get("/promo", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.org/landing", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusNotFound, get("/missing", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/secret", "").Code)
	assert.Equal(t, http.StatusForbidden, get("/secret", "wrong").Code)

	rec = get("/secret", "hunter2")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.org/private", rec.Header().Get("Location"))

	rec = get("/secret?password=hunter2", "")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestQuotaDenialEnvelope(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	u1 := token(t, "u1", "", time.Hour)

	rec, out := e.do(t, u1, http.MethodPost, "/api/dns/records", `{"type":"A","name":"app","content":"192.0.2.1","ttl":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, out.Message)

	rec, out = e.do(t, u1, http.MethodPost, "/api/dns/records", `{"type":"A","name":"api2","content":"192.0.2.2","ttl":1}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "quota_exceeded", out.Code)
	var denial quota.Denial
	require.NoError(t, json.Unmarshal(out.Details, &denial))
	assert.Equal(t, 1, denial.Limit)
	assert.Equal(t, 1, denial.Used)
}

func TestRecordUpdate(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	u1 := token(t, "u1", "", time.Hour)

	rec, out := e.do(t, u1, http.MethodPost, "/api/dns/records", `{"type":"TXT","name":"note","content":"hello","ttl":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, out.Message)
	created := decodeData[struct {
		ID string `json:"id"`
	}](t, out)

	rec, out = e.do(t, u1, http.MethodPatch, "/api/dns/records/"+created.ID, `{"content":"updated","ttl":300}`)
	require.Equal(t, http.StatusOK, rec.Code, out.Message)
	updated := decodeData[struct {
		Content string `json:"content"`
		TTL     int    `json:"ttl"`
	}](t, out)
	assert.Equal(t, "updated", updated.Content)
	assert.Equal(t, 300, updated.TTL)

	rec, _ = e.do(t, token(t, "u2", "", time.Hour), http.MethodDelete, "/api/dns/records/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = e.do(t, u1, http.MethodDelete, "/api/dns/records/"+created.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportLinks(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	u1 := token(t, "u1", "", time.Hour)

	for _, slug := range []string{"a", "b"} {
		rec, out := e.do(t, u1, http.MethodPost, "/api/links", `{"slug":"`+slug+`","target_url":"https://example.org/`+slug+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, out.Message)
	}

	rec, _ := e.do(t, u1, http.MethodGet, "/api/export/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var slugs []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var l struct {
			Slug string `json:"slug"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		slugs = append(slugs, l.Slug)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, slugs)

	rec, _ = e.do(t, token(t, "u2", "", time.Hour), http.MethodGet, "/api/export/links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestUsage(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec, out := e.do(t, token(t, "u1", "", time.Hour), http.MethodGet, "/api/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	usage := decodeData[[]quota.Usage](t, out)
	assert.Len(t, usage, len(model.Kinds))

	rec, out = e.do(t, token(t, "u1", "", time.Hour), http.MethodGet, "/api/usage?user_id=u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", out.Code)

	rec, _ = e.do(t, token(t, "root", "admin", time.Hour), http.MethodGet, "/api/usage?user_id=u2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerAudit(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec, _ := e.do(t, token(t, "u1", "", time.Hour), http.MethodPost, "/api/admin/dns/audit", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = e.do(t, token(t, "root", "admin", time.Hour), http.MethodPost, "/api/admin/dns/audit", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{tasks.DNSAuditTask}, e.jobs.names)
}

func TestOpsEndpoints(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	rec, _ := e.do(t, "", http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = e.do(t, "", http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = e.do(t, "", http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/health/live"`)

	rec, out := e.do(t, "", http.MethodGet, "/no/such/route", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out.Code)
}
