package reconciler

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
	"github.com/dmitrymomot/provisioner/internal/store"
	"github.com/dmitrymomot/provisioner/pkg/dnsprovider"
)

// Drift pairs a mirror row with a provider record whose content diverged.
type Drift struct {
	Local  model.DNSRecord    `json:"local"`
	Remote dnsprovider.Record `json:"remote"`
}

// Report is the result of comparing a zone with its mirror.
type Report struct {
	Zone      dnsprovider.Zone     `json:"zone"`
	Remote    int                  `json:"remote"`
	Local     int                  `json:"local"`
	Unmanaged int                  `json:"unmanaged"`
	Orphans   []dnsprovider.Record `json:"orphans"`
	Ghosts    []model.DNSRecord    `json:"ghosts"`
	Drifted   []Drift              `json:"drifted"`
}

// Clean reports whether the mirror matches the provider.
func (r Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Ghosts) == 0 && len(r.Drifted) == 0
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("zone", r.Zone),
		slog.Int("remote", r.Remote),
		slog.Int("local", r.Local),
		slog.Int("unmanaged", r.Unmanaged),
		slog.Int("orphans", len(r.Orphans)),
		slog.Int("ghosts", len(r.Ghosts)),
		slog.Int("drifted", len(r.Drifted)),
	)
}

// Audit lists the zone at the provider and diffs it against active mirror
// rows. Orphans are marked provider records with no mirror row, ghosts are
// mirror rows whose provider record is gone. Nothing is modified.
func (r *Reconciler) Audit(ctx context.Context, zone dnsprovider.Zone) (Report, error) {
	remote, err := r.client.ListRecords(ctx, zone, dnsprovider.Filter{})
	if err != nil {
		return Report{}, providerErr("list", err)
	}
	byID := make(map[string]dnsprovider.Record, len(remote))
	for _, rec := range remote {
		byID[rec.ID] = rec
	}

	rep := Report{Zone: zone, Remote: len(remote)}
	seen := make(map[string]struct{})

	filter := store.RecordFilter{ZoneID: zone.ID, ZoneName: zone.Name}
	fetch := func(ctx context.Context, p store.Page) ([]model.DNSRecord, error) {
		return r.records.ListRecords(ctx, filter, p)
	}
	for local, err := range store.Pages(ctx, store.MaxPageSize, fetch, func(d model.DNSRecord) string { return d.ID }) {
		if err != nil {
			return Report{}, apperr.Internal("failed to list dns records", apperr.WithCause(err))
		}
		rep.Local++
		rem, ok := byID[local.RemoteID]
		if !ok {
			rep.Ghosts = append(rep.Ghosts, local)
			continue
		}
		seen[local.RemoteID] = struct{}{}
		if drifted(local, rem) {
			rep.Drifted = append(rep.Drifted, Drift{Local: local, Remote: rem})
		}
	}

	for _, rec := range remote {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		if Managed(rec) {
			rep.Orphans = append(rep.Orphans, rec)
		} else {
			rep.Unmanaged++
		}
	}

	level := slog.LevelInfo
	if !rep.Clean() {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "dns audit finished", slog.Any("report", rep))
	return rep, nil
}

func drifted(local model.DNSRecord, remote dnsprovider.Record) bool {
	return local.Type != remote.Type ||
		local.Name != remote.Name ||
		local.Content != remote.Content ||
		local.Proxied != remote.Proxied ||
		local.TTL != remote.TTL
}
