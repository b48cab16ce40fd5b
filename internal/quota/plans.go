package quota

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/provisioner/internal/model"
)

var (
	ErrInvalidPlans = errors.New("quota: invalid plan table")
	ErrUnknownPlan  = errors.New("quota: unknown plan")
)

// Window is the look-back range a usage count covers.
type Window string

const (
	WindowAll   Window = "all"
	WindowMonth Window = "month"
	WindowDay   Window = "day"
)

// Start returns the first instant counted by w at now.
// month is the trailing calendar month, day the trailing 24 hours.
func (w Window) Start(now time.Time) time.Time {
	switch w {
	case WindowMonth:
		return now.AddDate(0, -1, 0)
	case WindowDay:
		return now.Add(-24 * time.Hour)
	default:
		return time.Time{}
	}
}

func (w Window) valid() bool {
	switch w {
	case WindowAll, WindowMonth, WindowDay:
		return true
	}
	return false
}

// Limit is a ceiling over a window. A negative Max means unlimited.
type Limit struct {
	Max    int    `yaml:"limit"`
	Window Window `yaml:"window"`
}

// Unlimited reports whether the limit never denies.
func (l Limit) Unlimited() bool { return l.Max < 0 }

// UnmarshalYAML accepts either {limit, window} or a bare number (window "all").
func (l *Limit) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		l.Window = WindowAll
		return node.Decode(&l.Max)
	}
	type plain Limit
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.Window == "" {
		p.Window = WindowAll
	}
	*l = Limit(p)
	return nil
}

// Plan maps resource kinds to limits. A kind missing from the plan is denied.
type Plan map[model.ResourceKind]Limit

// Plans is the tier table.
type Plans struct {
	Default string          `yaml:"default"`
	Tiers   map[string]Plan `yaml:"plans"`
}

// DefaultPlans is used when no plan file is configured.
func DefaultPlans() Plans {
	return Plans{
		Default: "free",
		Tiers: map[string]Plan{
			"free": {
				model.KindCustomDomains: {Max: 3, Window: WindowAll},
				model.KindShortLinks:    {Max: 100, Window: WindowMonth},
				model.KindDNSRecords:    {Max: 10, Window: WindowAll},
				model.KindEmailAliases:  {Max: 5, Window: WindowAll},
			},
			"pro": {
				model.KindCustomDomains: {Max: 25, Window: WindowAll},
				model.KindShortLinks:    {Max: 5000, Window: WindowMonth},
				model.KindDNSRecords:    {Max: 200, Window: WindowAll},
				model.KindEmailAliases:  {Max: 200, Window: WindowAll},
			},
			"enterprise": {
				model.KindCustomDomains: {Max: -1, Window: WindowAll},
				model.KindShortLinks:    {Max: -1, Window: WindowMonth},
				model.KindDNSRecords:    {Max: -1, Window: WindowAll},
				model.KindEmailAliases:  {Max: -1, Window: WindowAll},
			},
		},
	}
}

// ParsePlans decodes a YAML plan table:
//
//	default: free
//	plans:
//	  free:
//	    custom_domains: 3
//	    short_links: {limit: 100, window: month}
func ParsePlans(data []byte) (Plans, error) {
	var p Plans
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Plans{}, errors.Join(ErrInvalidPlans, err)
	}
	if err := p.validate(); err != nil {
		return Plans{}, err
	}
	return p, nil
}

// LoadPlans reads the plan table at path; an empty path yields DefaultPlans.
func LoadPlans(path string) (Plans, error) {
	if path == "" {
		return DefaultPlans(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Plans{}, errors.Join(ErrInvalidPlans, err)
	}
	return ParsePlans(data)
}

func (p Plans) validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("%w: no plans defined", ErrInvalidPlans)
	}
	if _, ok := p.Tiers[p.Default]; !ok {
		return fmt.Errorf("%w: default plan %q is not defined", ErrInvalidPlans, p.Default)
	}
	for tier, plan := range p.Tiers {
		for kind, l := range plan {
			if !l.Window.valid() {
				return fmt.Errorf("%w: %s.%s: unknown window %q", ErrInvalidPlans, tier, kind, l.Window)
			}
		}
	}
	return nil
}

// Plan returns the named tier, falling back to the default tier for an
// empty name.
func (p Plans) Plan(tier string) (Plan, error) {
	if tier == "" {
		tier = p.Default
	}
	plan, ok := p.Tiers[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, tier)
	}
	return plan, nil
}
