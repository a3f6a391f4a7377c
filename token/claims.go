package token

import "time"

// ClaimValue carries both a claim's original textual form and its parsed
// form, per spec.md §3 ("a claim value carries both the original textual
// form and a parsed form").
type ClaimValue struct {
	Raw    any
	String string
	Strings []string
	Int    int64
	Bool   bool
	Time   time.Time
	Map    map[string]any
	Kind   ClaimKind
}

// ClaimKind tags which of ClaimValue's typed fields is populated.
type ClaimKind int

const (
	KindString ClaimKind = iota
	KindStringSet
	KindInt
	KindBool
	KindTime
	KindMap
	KindUnknown
)

// ClaimMap is the common string→ClaimValue map shared by all three token
// content variants (access, identity, refresh).
type ClaimMap map[string]ClaimValue

// NewClaimMap classifies every entry in a decoded JSON body into a
// ClaimValue, inferring Kind from the JSON type. Numeric claims named
// iat/nbf/exp/auth_time are additionally parsed as Unix-seconds instants.
func NewClaimMap(body map[string]any) ClaimMap {
	out := make(ClaimMap, len(body))
	for k, v := range body {
		out[k] = classify(k, v)
	}
	return out
}

func classify(name string, v any) ClaimValue {
	switch val := v.(type) {
	case string:
		return ClaimValue{Raw: v, String: val, Kind: KindString}
	case bool:
		return ClaimValue{Raw: v, Bool: val, Kind: KindBool}
	case float64:
		cv := ClaimValue{Raw: v, Int: int64(val), Kind: KindInt}
		if isInstantClaim(name) {
			cv.Time = time.Unix(int64(val), 0).UTC()
			cv.Kind = KindTime
		}
		return cv
	case []any:
		strs := make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				strs = append(strs, s)
			}
		}
		return ClaimValue{Raw: v, Strings: strs, Kind: KindStringSet}
	case map[string]any:
		return ClaimValue{Raw: v, Map: val, Kind: KindMap}
	default:
		return ClaimValue{Raw: v, Kind: KindUnknown}
	}
}

func isInstantClaim(name string) bool {
	switch name {
	case "iat", "nbf", "exp", "auth_time":
		return true
	default:
		return false
	}
}

// StringSet normalizes a claim that may be either a single string or an
// array of strings (e.g. "aud") into a slice.
func (c ClaimMap) StringSet(name string) []string {
	cv, ok := c[name]
	if !ok {
		return nil
	}
	switch cv.Kind {
	case KindString:
		return []string{cv.String}
	case KindStringSet:
		return cv.Strings
	default:
		return nil
	}
}

// Get returns the claim value and whether it was present.
func (c ClaimMap) Get(name string) (ClaimValue, bool) {
	v, ok := c[name]
	return v, ok
}

// CnfJKT returns the "cnf.jkt" confirmation thumbprint claim, if present.
func (c ClaimMap) CnfJKT() (string, bool) {
	cnf, ok := c["cnf"]
	if !ok || cnf.Kind != KindMap {
		return "", false
	}
	jkt, ok := cnf.Map["jkt"].(string)
	return jkt, ok
}
