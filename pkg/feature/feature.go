package feature

// Code identifies a gated capability. The set is closed: quota values,
// usage counters, and alerts are only ever keyed by one of these codes.
type Code string

const (
	ArticlesPerMonth    Code = "articles_per_month"
	PublishPerMonth     Code = "publish_per_month"
	PlatformAccounts    Code = "platform_accounts"
	KeywordDistillation Code = "keyword_distillation"
	StorageSpace        Code = "storage_space"
)

const (
	// Unlimited indicates no limit for a feature (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Cadence declares how often a feature's usage counter resets.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceMonthly Cadence = "monthly"
	// CadenceLifetime features accumulate for the whole subscription and
	// reset only on plan change.
	CadenceLifetime Cadence = "subscription-lifetime"
)

// Definition describes a feature's accounting behaviour.
type Definition struct {
	Name    string
	Cadence Cadence
	Unit    string
	// PreserveOnPlanChange marks counters that track real resources
	// (e.g. connected platform accounts) rather than consumable quota;
	// plan changes must not zero them.
	PreserveOnPlanChange bool
}

var definitions = map[Code]Definition{
	ArticlesPerMonth: {
		Name:    "Generated articles per month",
		Cadence: CadenceMonthly,
		Unit:    "articles",
	},
	PublishPerMonth: {
		Name:    "Published articles per month",
		Cadence: CadenceMonthly,
		Unit:    "publishes",
	},
	PlatformAccounts: {
		Name:                 "Connected platform accounts",
		Cadence:              CadenceLifetime,
		Unit:                 "accounts",
		PreserveOnPlanChange: true,
	},
	KeywordDistillation: {
		Name:    "Keyword distillations per day",
		Cadence: CadenceDaily,
		Unit:    "distillations",
	},
	StorageSpace: {
		Name:    "Storage space",
		Cadence: CadenceLifetime,
		Unit:    "MB",
	},
}

// Valid reports whether c belongs to the closed feature set.
func Valid(c Code) bool {
	_, ok := definitions[c]
	return ok
}

// Get returns the definition for a feature code.
func Get(c Code) (Definition, bool) {
	def, ok := definitions[c]
	return def, ok
}

// CadenceOf returns the reset cadence for a feature code.
// Unknown codes default to CadenceLifetime so that a misconfigured
// counter never silently resets.
func CadenceOf(c Code) Cadence {
	if def, ok := definitions[c]; ok {
		return def.Cadence
	}
	return CadenceLifetime
}

// All returns every defined feature code. The order is unspecified.
func All() []Code {
	codes := make([]Code, 0, len(definitions))
	for c := range definitions {
		codes = append(codes, c)
	}
	return codes
}

// Preserved returns the codes whose counters survive a plan change.
func Preserved() []Code {
	var codes []Code
	for c, def := range definitions {
		if def.PreserveOnPlanChange {
			codes = append(codes, c)
		}
	}
	return codes
}

// ValidateOverrides checks a sparse custom-quota map against the closed
// feature set and returns the unknown codes, if any. A value below -1 is
// also rejected since -1 is the only sentinel.
func ValidateOverrides(overrides map[Code]int64) []Code {
	var bad []Code
	for c, v := range overrides {
		if !Valid(c) || v < Unlimited {
			bad = append(bad, c)
		}
	}
	return bad
}
