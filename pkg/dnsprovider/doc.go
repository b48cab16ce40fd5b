// Package dnsprovider talks to the authoritative DNS provider that hosts the
// service's zones.
//
// Client is the narrow surface the rest of the system depends on: create,
// update, delete and list records in a Zone. Every call returns the
// provider-canonical record so callers can mirror exactly what the provider
// stored.
//
// Implementations:
//
//   - Cloudflare: the Cloudflare v4 API through cloudflare-go, addressed by zone id.
//   - LibDNS: any libdns provider (Cloudflare, DigitalOcean), addressed by zone name.
//   - Retrying: a decorator that retries transient failures of another Client.
//
// Failures are reported as *ProviderError. DeleteRecord treats a record that
// is already gone as success.
//
//	cf, err := dnsprovider.NewCloudflare(dnsprovider.Credentials{APIToken: token})
//	client := dnsprovider.NewRetrying(cf, dnsprovider.WithAttempts(3))
//	rec, err := client.CreateRecord(ctx, zone, dnsprovider.Record{
//		Type: "TXT", Name: "_verify.example.com", Content: "token", TTL: 300,
//	})
package dnsprovider
