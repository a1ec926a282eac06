package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// GenerateKey creates a cache key for a function call.
// Equivalent params (same values, any key order) share a key.
func GenerateKey(function string, params json.RawMessage) string {
	normalizedParams := normalizeParams(params)
	hash := sha256.Sum256(normalizedParams)
	paramsHash := hex.EncodeToString(hash[:8])

	return function + ":" + paramsHash
}

// normalizeParams re-encodes params so whitespace and object key order do not
// affect the key. encoding/json writes map keys sorted.
func normalizeParams(params json.RawMessage) []byte {
	if len(params) == 0 {
		return []byte("{}")
	}

	var data interface{}
	if err := json.Unmarshal(params, &data); err != nil {
		return params
	}
	if data == nil {
		return []byte("{}")
	}

	result, err := json.Marshal(data)
	if err != nil {
		return params
	}
	return result
}

// Policy decides which functions may be cached
type Policy struct {
	disabled map[string]bool
}

// NewPolicy creates a Policy that excludes the given functions
func NewPolicy(disabledFunctions []string) *Policy {
	disabled := make(map[string]bool, len(disabledFunctions))
	for _, name := range disabledFunctions {
		disabled[name] = true
	}
	return &Policy{disabled: disabled}
}

// IsDisabled reports whether caching is disabled for function
func (p *Policy) IsDisabled(function string) bool {
	if p == nil {
		return false
	}
	return p.disabled[function]
}
