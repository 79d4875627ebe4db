package domain

import "time"

type ConfigVarScope string

const (
	ScopeGlobal ConfigVarScope = "global"
	ScopeStag   ConfigVarScope = "stag"
	ScopeProd   ConfigVarScope = "prod"
)

// ConfigVar is a user-managed environment variable of a module.
// Built-in vars are injected elsewhere and never stored here.
type ConfigVar struct {
	AppCode     string
	ModuleName  string
	Key         string
	Value       string
	Description string
	Scope       ConfigVarScope
	UpdatedAt   time.Time
}

// Equivalent ignores volatile attributes when deciding whether an
// incoming var changes anything.
func (v ConfigVar) Equivalent(o ConfigVar) bool {
	return v.Key == o.Key &&
		v.Value == o.Value &&
		v.Description == o.Description &&
		v.Scope == o.Scope
}

// ApplyResult counts the outcome of a ConfigVar apply or batch save.
type ApplyResult struct {
	Created     int
	Overwritten int
	Ignored     int
	Deleted     int
}
