// Package quota admits resource creation against per-plan ceilings.
//
// Usage is never stored as a counter: it is the number of the user's rows
// of a kind created inside the window, counted at check time.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/provisioner/internal/apperr"
	"github.com/dmitrymomot/provisioner/internal/model"
)

// Counter counts a user's resources of kind created at or after since.
type Counter interface {
	CountCreatedSince(ctx context.Context, userID string, kind model.ResourceKind, since time.Time) (int, error)
}

// PlanResolver returns the plan tier of a user other than the caller.
type PlanResolver func(ctx context.Context, userID string) (string, error)

// PlanRecorder receives the plan of a caller acting for itself.
type PlanRecorder func(ctx context.Context, userID, plan string) error

// Outcomes reported to the observer.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Denial describes a rejected admission.
type Denial struct {
	Kind    model.ResourceKind `json:"kind"`
	Limit   int                `json:"limit"`
	Used    int                `json:"used"`
	Window  Window             `json:"window"`
	Status  int                `json:"status"`
	Message string             `json:"message"`
}

// Usage is a per-kind usage report line.
type Usage struct {
	Kind      model.ResourceKind `json:"kind"`
	Used      int                `json:"used"`
	Limit     int                `json:"limit"`
	Window    Window             `json:"window"`
	Unlimited bool               `json:"unlimited"`
}

// Ledger checks usage against a plan table.
type Ledger struct {
	plans    Plans
	counter  Counter
	resolve  PlanResolver
	record   PlanRecorder
	now      func() time.Time
	logger   *slog.Logger
	observer func(kind model.ResourceKind, outcome string)
}

type Option func(*Ledger)

// WithClock injects the time source used for window starts.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.logger = log }
}

// WithPlanResolver sets how plans of non-caller users are found.
// Without it they get the default plan.
func WithPlanResolver(r PlanResolver) Option {
	return func(l *Ledger) { l.resolve = r }
}

// WithPlanRecorder is called with the caller's plan on every check the
// caller makes for itself. Recording failures are logged, never denied.
func WithPlanRecorder(r PlanRecorder) Option {
	return func(l *Ledger) { l.record = r }
}

// WithObserver receives every check outcome.
func WithObserver(fn func(kind model.ResourceKind, outcome string)) Option {
	return func(l *Ledger) { l.observer = fn }
}

func New(plans Plans, counter Counter, opts ...Option) *Ledger {
	l := &Ledger{
		plans:    plans,
		counter:  counter,
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
		observer: func(model.ResourceKind, string) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check returns nil when userID may create one more resource of kind,
// or a quota_exceeded error whose details are a Denial. Any failure to
// determine usage denies.
func (l *Ledger) Check(ctx context.Context, caller model.Caller, userID string, kind model.ResourceKind) error {
	limit, err := l.limit(ctx, caller, userID, kind)
	if err != nil {
		return l.failClosed(ctx, userID, kind, err)
	}
	if limit.Unlimited() {
		l.observer(kind, OutcomeAllowed)
		return nil
	}

	used := 0
	if limit.Max > 0 {
		used, err = l.counter.CountCreatedSince(ctx, userID, kind, limit.Window.Start(l.now()))
		if err != nil {
			return l.failClosed(ctx, userID, kind, err)
		}
	}

	if used < limit.Max {
		l.observer(kind, OutcomeAllowed)
		return nil
	}

	d := Denial{
		Kind:    kind,
		Limit:   limit.Max,
		Used:    used,
		Window:  limit.Window,
		Status:  http.StatusTooManyRequests,
		Message: denialMessage(kind, limit),
	}
	l.observer(kind, OutcomeDenied)
	l.logger.InfoContext(ctx, "quota exceeded",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.Int("limit", limit.Max),
		slog.Int("used", used),
	)
	return apperr.QuotaExceeded(d.Message, apperr.WithDetails(d))
}

func (l *Ledger) failClosed(ctx context.Context, userID string, kind model.ResourceKind, err error) error {
	l.observer(kind, OutcomeError)
	l.logger.ErrorContext(ctx, "quota check failed, denying",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)
	d := Denial{
		Kind:    kind,
		Status:  http.StatusTooManyRequests,
		Message: "usage could not be verified, try again later",
	}
	return apperr.QuotaExceeded(d.Message, apperr.WithDetails(d), apperr.WithCause(err))
}

func (l *Ledger) tier(ctx context.Context, caller model.Caller, userID string) (string, error) {
	if userID == caller.UserID {
		if l.record != nil && caller.Plan != "" {
			if err := l.record(ctx, userID, caller.Plan); err != nil {
				l.logger.WarnContext(ctx, "failed to record user plan",
					slog.String("user_id", userID),
					slog.String("plan", caller.Plan),
					slog.Any("error", err),
				)
			}
		}
		return caller.Plan, nil
	}
	if l.resolve == nil {
		return l.plans.Default, nil
	}
	return l.resolve(ctx, userID)
}

func (l *Ledger) limit(ctx context.Context, caller model.Caller, userID string, kind model.ResourceKind) (Limit, error) {
	tier, err := l.tier(ctx, caller, userID)
	if err != nil {
		return Limit{}, err
	}
	plan, err := l.plans.Plan(tier)
	if err != nil {
		return Limit{}, err
	}
	limit, ok := plan[kind]
	if !ok {
		return Limit{Max: 0, Window: WindowAll}, nil
	}
	return limit, nil
}

// Usage reports the user's usage for every kind.
func (l *Ledger) Usage(ctx context.Context, caller model.Caller, userID string) ([]Usage, error) {
	out := make([]Usage, 0, len(model.Kinds))
	for _, kind := range model.Kinds {
		limit, err := l.limit(ctx, caller, userID, kind)
		if err != nil {
			return nil, apperr.Internal("failed to resolve plan", apperr.WithCause(err))
		}
		used, err := l.counter.CountCreatedSince(ctx, userID, kind, limit.Window.Start(l.now()))
		if err != nil {
			return nil, apperr.Internal("failed to count usage", apperr.WithCause(err))
		}
		out = append(out, Usage{
			Kind:      kind,
			Used:      used,
			Limit:     limit.Max,
			Window:    limit.Window,
			Unlimited: limit.Unlimited(),
		})
	}
	return out, nil
}

// DenialOf extracts the Denial carried by a quota error.
func DenialOf(err error) (Denial, bool) {
	e := apperr.As(err)
	if e == nil || e.Kind != apperr.KindQuotaExceeded {
		return Denial{}, false
	}
	d, ok := e.Details.(Denial)
	return d, ok
}

func denialMessage(kind model.ResourceKind, limit Limit) string {
	switch limit.Window {
	case WindowMonth:
		return fmt.Sprintf("plan limit of %d %s per month reached", limit.Max, kindLabel(kind))
	case WindowDay:
		return fmt.Sprintf("plan limit of %d %s per day reached", limit.Max, kindLabel(kind))
	default:
		return fmt.Sprintf("plan limit of %d %s reached", limit.Max, kindLabel(kind))
	}
}

func kindLabel(kind model.ResourceKind) string {
	switch kind {
	case model.KindCustomDomains:
		return "custom domains"
	case model.KindShortLinks:
		return "short links"
	case model.KindDNSRecords:
		return "DNS records"
	case model.KindEmailAliases:
		return "email aliases"
	}
	return string(kind)
}
