package models

// CapabilityToken is a signed object binding a thread to a capability set.
// Signature is an Ed25519 signature (base64url) over the canonical JSON of
// every other field, with Caps sorted.
type CapabilityToken struct {
	TokenID     string   `json:"token_id"`
	Caps        []string `json:"caps"`
	Aud         string   `json:"aud"`
	Exp         string   `json:"exp"`
	DirectiveID string   `json:"directive_id"`
	ThreadID    string   `json:"thread_id"`
	ParentID    string   `json:"parent_id,omitempty"`
	Signature   string   `json:"signature,omitempty"`
}
