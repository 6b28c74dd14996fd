package command

// Propagation selects how a command relates to a unit of work already
// bound to the calling context.
type Propagation int

const (
	// Required joins the bound unit when it may be reused, otherwise opens
	// a new one.
	Required Propagation = iota
	// RequiresNew always opens a new unit with its own transaction.
	RequiresNew
	// NotSupported opens a new unit that nested commands never join.
	NotSupported
)

func (p Propagation) String() string {
	switch p {
	case Required:
		return "required"
	case RequiresNew:
		return "requires_new"
	case NotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Config is the immutable execution configuration of one command
// invocation. The With methods return modified copies.
type Config struct {
	propagation     Propagation
	contextReusable bool
}

// DefaultConfig joins an enclosing unit when possible.
func DefaultConfig() Config {
	return Config{propagation: Required, contextReusable: true}
}

// RequiresNewConfig always opens a fresh, non-joining unit.
func RequiresNewConfig() Config {
	return Config{propagation: RequiresNew}
}

// NotSupportedConfig opens a fresh unit that nested commands never join.
func NotSupportedConfig() Config {
	return Config{propagation: NotSupported}
}

// Propagation returns the configured propagation.
func (c Config) Propagation() Propagation { return c.propagation }

// ContextReusable reports whether an enclosing unit may be joined.
func (c Config) ContextReusable() bool { return c.contextReusable }

// WithPropagation returns a copy with propagation p.
func (c Config) WithPropagation(p Propagation) Config {
	c.propagation = p
	return c
}

// WithContextReusable returns a copy with contextReusable set to r.
func (c Config) WithContextReusable(r bool) Config {
	c.contextReusable = r
	return c
}

// JoinsEnclosing reports whether a command run with c joins an enclosing
// unit that is reusable.
func (c Config) JoinsEnclosing() bool {
	return c.propagation == Required && c.contextReusable
}
