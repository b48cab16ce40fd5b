// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/provisioner/pkg/db"
	"github.com/dmitrymomot/provisioner/pkg/job"
	"github.com/dmitrymomot/provisioner/pkg/logger"
	"github.com/dmitrymomot/provisioner/pkg/redis"
)

var (
	ErrParse   = errors.New("config: failed to parse environment")
	ErrInvalid = errors.New("config: invalid configuration")
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DNS providers.
const (
	ProviderCloudflare         = "cloudflare"
	ProviderLibDNSCloudflare   = "libdns-cloudflare"
	ProviderLibDNSDigitalOcean = "libdns-digitalocean"
	ProviderMemory             = "memory"
)

type Config struct {
	Env      string `env:"APP_ENV" envDefault:"production"`
	HTTP     HTTP
	Database Database
	Redis    redis.Config
	Log      logger.Config
	Jobs     job.RiverConfig
	Auth     Auth
	DNS      DNS
	Mail     Mail

	PlansFile     string        `env:"PLANS_FILE"`
	AuditSchedule string        `env:"AUDIT_SCHEDULE" envDefault:"@every 6h"`
	LinkCacheTTL  time.Duration `env:"LINK_CACHE_TTL" envDefault:"5m"`
	AuditBuffer   int           `env:"AUDIT_BUFFER" envDefault:"1024"`
}

type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

type Database struct {
	Driver     string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"provisioner.db"`
	Postgres   db.Config
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`
}

func (a Auth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("jwt_secret_set", a.JWTSecret != ""),
		slog.String("issuer", a.JWTIssuer),
	)
}

type DNS struct {
	Provider          string `env:"DNS_PROVIDER" envDefault:"cloudflare"`
	ProviderBaseURL   string `env:"DNS_PROVIDER_BASE_URL"`
	CloudflareToken   string `env:"CLOUDFLARE_API_TOKEN"`
	CloudflareKey     string `env:"CLOUDFLARE_API_KEY"`
	CloudflareEmail   string `env:"CLOUDFLARE_API_EMAIL"`
	DigitalOceanToken string `env:"DIGITALOCEAN_API_TOKEN"`

	ZoneID          string `env:"DNS_ZONE_ID"`
	ZoneName        string `env:"DNS_ZONE_NAME"`
	ShortLinkTarget string `env:"SHORT_LINK_TARGET"`

	Timeout         time.Duration `env:"DNS_TIMEOUT" envDefault:"5s"`
	Nameserver      string        `env:"DNS_NAMESERVER"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	ProviderRetries int           `env:"PROVIDER_RETRIES" envDefault:"3"`
	VerifyPrefix    string        `env:"VERIFY_PREFIX" envDefault:"_verify"`
}

// LogValue omits provider credentials.
func (d DNS) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", d.Provider),
		slog.String("zone", d.ZoneName),
		slog.String("nameserver", d.Nameserver),
		slog.Bool("credentials_set", d.CloudflareToken != "" || d.CloudflareKey != "" || d.DigitalOceanToken != ""),
	)
}

type Mail struct {
	MXHost        string `env:"MAIL_MX_HOST"`
	SPFInclude    string `env:"MAIL_SPF_INCLUDE"`
	OutboundIP    string `env:"MAIL_OUTBOUND_IP"`
	DMARCReportTo string `env:"DMARC_REPORT_ADDRESS"`
}

func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("env", c.Env),
		slog.String("http_addr", c.HTTP.Addr),
		slog.String("db_driver", c.Database.Driver),
		slog.Any("dns", c.DNS),
		slog.Any("log", c.Log),
		slog.String("plans_file", c.PlansFile),
	)
}

// Load reads an optional .env file and parses the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, errors.Join(ErrParse, err)
		}
	}
	return Parse()
}

// Parse reads the process environment without touching .env files.
func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Join(ErrParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Postgres.ConnectionString == "" {
			add("DATABASE_CONN_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			add("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		add("unknown DATABASE_DRIVER %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		add("JWT_SECRET is required")
	}

	providers := []string{ProviderCloudflare, ProviderLibDNSCloudflare, ProviderLibDNSDigitalOcean, ProviderMemory}
	if !slices.Contains(providers, c.DNS.Provider) {
		add("unknown DNS_PROVIDER %q", c.DNS.Provider)
	}
	switch c.DNS.Provider {
	case ProviderCloudflare:
		if c.DNS.CloudflareToken == "" && (c.DNS.CloudflareKey == "" || c.DNS.CloudflareEmail == "") {
			add("CLOUDFLARE_API_TOKEN or CLOUDFLARE_API_KEY with CLOUDFLARE_API_EMAIL is required")
		}
		if c.DNS.ZoneID == "" {
			add("DNS_ZONE_ID is required for the cloudflare provider")
		}
	case ProviderLibDNSCloudflare:
		if c.DNS.CloudflareToken == "" {
			add("CLOUDFLARE_API_TOKEN is required for libdns-cloudflare")
		}
	case ProviderLibDNSDigitalOcean:
		if c.DNS.DigitalOceanToken == "" {
			add("DIGITALOCEAN_API_TOKEN is required for libdns-digitalocean")
		}
	}
	if c.DNS.ZoneName == "" {
		add("DNS_ZONE_NAME is required")
	}
	if c.DNS.ProviderRetries < 1 {
		add("PROVIDER_RETRIES must be at least 1")
	}
	if c.DNS.Timeout <= 0 || c.DNS.ProviderTimeout <= 0 {
		add("DNS_TIMEOUT and PROVIDER_TIMEOUT must be positive")
	}
	if c.Mail.OutboundIP != "" && net.ParseIP(c.Mail.OutboundIP) == nil {
		add("MAIL_OUTBOUND_IP %q is not an IP address", c.Mail.OutboundIP)
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalid}, errs...)...)
}

// SystemZones lists the zones the service itself owns; users may not
// register domains inside them.
func (c Config) SystemZones() []string {
	return []string{c.DNS.ZoneName}
}
