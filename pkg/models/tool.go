package models

// VersionConstraint bounds the semver range a parent tool accepts for a
// specific child it delegates to.
type VersionConstraint struct {
	MinVersion string `toml:"min_version,omitempty" json:"min_version,omitempty"`
	MaxVersion string `toml:"max_version,omitempty" json:"max_version,omitempty"`
}

// ToolMetadata is the parsed metadata block of a tool definition: enough
// to resolve its delegation chain and validate space/I-O/version
// compatibility against its parent. ExecutorID is empty for primitives
// (subprocess, http, sse), which terminate every chain.
type ToolMetadata struct {
	ID               string                       `toml:"-" json:"id"`
	Version          string                       `toml:"version" json:"version"`
	ToolType         string                       `toml:"tool_type" json:"tool_type"`
	ExecutorID       string                       `toml:"executor_id,omitempty" json:"executor_id,omitempty"`
	Category         string                       `toml:"category,omitempty" json:"category,omitempty"`
	Inputs           []InputField                 `toml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs          []OutputField                `toml:"outputs,omitempty" json:"outputs,omitempty"`
	ChildConstraints map[string]VersionConstraint `toml:"child_constraints,omitempty" json:"child_constraints,omitempty"`
	EnvConfig        map[string]any               `toml:"env_config,omitempty" json:"env_config,omitempty"`
}

// ChainLink is one resolved element of a tool's delegation chain, tagged
// with the space tier it was resolved from and its content-integrity
// hash at resolution time.
type ChainLink struct {
	ItemID string       `json:"item_id"`
	Tier   string       `json:"tier"`
	Path   string       `json:"path"`
	Hash   string       `json:"hash"`
	Meta   ToolMetadata `json:"meta"`
}

// Lockfile pins a resolved chain's integrity hashes for a {tool_id,
// version} pair. A later resolution whose on-disk hashes disagree with
// this lockfile is a hard failure per spec.md §4.3.
type Lockfile struct {
	ToolID  string      `json:"tool_id"`
	Version string      `json:"version"`
	Chain   []ChainLink `json:"chain"`
}
