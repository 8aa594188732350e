package models

// Limits bounds a thread's resource consumption. Every field is optional;
// a zero value means "no limit" for that dimension.
type Limits struct {
	Turns           int     `json:"turns,omitempty" yaml:"turns,omitempty"`
	Tokens          int     `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	Spend           float64 `json:"spend,omitempty" yaml:"spend,omitempty"`
	DurationSeconds int     `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	Depth           int     `json:"depth,omitempty" yaml:"depth,omitempty"`
	Spawns          int     `json:"spawns,omitempty" yaml:"spawns,omitempty"`
}

// AcknowledgedRisk is a risk/reason pair a directive author accepts up front.
type AcknowledgedRisk struct {
	Risk   string `json:"risk" yaml:"risk"`
	Reason string `json:"reason" yaml:"reason"`
}

// InputField describes one typed input a directive accepts.
type InputField struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// OutputField describes one typed output a directive produces.
type OutputField struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// ContextPosition selects where a knowledge block is injected relative to
// the user prompt, or whether it is suppressed entirely.
type ContextPosition string

const (
	ContextSystem   ContextPosition = "system"
	ContextBefore   ContextPosition = "before"
	ContextAfter    ContextPosition = "after"
	ContextSuppress ContextPosition = "suppress"
)

// ActionTemplate is a tool-call template extracted from a directive's body.
type ActionTemplate struct {
	ToolID string         `json:"tool_id" yaml:"tool_id"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ModelSelector names a model tier with optional explicit overrides.
type ModelSelector struct {
	Tier     string `json:"tier" yaml:"tier"`
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

// Directive is the parsed form of a directive file: metadata plus the
// interpolable prompt body. Name must match the filename it was loaded
// from, and Category must match the directory path under its space.
type Directive struct {
	Name              string                       `json:"name" yaml:"name"`
	Category          string                       `json:"category" yaml:"category"`
	Version           string                       `json:"version" yaml:"version"`
	Description       string                       `json:"description,omitempty" yaml:"description,omitempty"`
	Model             ModelSelector                `json:"model" yaml:"model"`
	Limits            Limits                       `json:"limits,omitempty" yaml:"limits,omitempty"`
	Permissions       []string                     `json:"permissions" yaml:"permissions"`
	AcknowledgedRisks []AcknowledgedRisk           `json:"acknowledged_risks,omitempty" yaml:"acknowledged_risks,omitempty"`
	Hooks             []Hook                       `json:"hooks,omitempty" yaml:"hooks,omitempty"`
	Inputs            []InputField                 `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs           []OutputField                `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Context           map[ContextPosition][]string `json:"context,omitempty" yaml:"context,omitempty"`
	Actions           []ActionTemplate             `json:"actions,omitempty" yaml:"actions,omitempty"`
	Body              string                       `json:"body" yaml:"-"`
}
