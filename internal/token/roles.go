package token

import (
	"fmt"
	"strings"
)

// roleShape tags the wire form a role claim arrived in.
type roleShape int

const (
	shapeAbsent roleShape = iota
	shapeList
	shapeDelimited
	shapeScalar
)

// roleClaim is the decoded role claim. Producers disagree on the shape, so
// it is decoded once here and only the normalized set leaves the package.
type roleClaim struct {
	shape  roleShape
	values []string
}

func decodeRoleClaim(raw any, present bool) roleClaim {
	if !present || raw == nil {
		return roleClaim{shape: shapeAbsent}
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, claimString(item))
		}
		return roleClaim{shape: shapeList, values: out}
	case []string:
		return roleClaim{shape: shapeList, values: v}
	case string:
		if strings.Contains(v, ",") {
			return roleClaim{shape: shapeDelimited, values: strings.Split(v, ",")}
		}
		return roleClaim{shape: shapeScalar, values: []string{v}}
	default:
		return roleClaim{shape: shapeScalar, values: []string{fmt.Sprint(v)}}
	}
}

// normalize trims, drops empties and de-duplicates, keeping first-seen order.
func (r roleClaim) normalize() []string {
	out := make([]string, 0, len(r.values))
	if r.shape == shapeAbsent {
		return out
	}
	seen := make(map[string]struct{}, len(r.values))
	for _, v := range r.values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// ExtractRoles reads the named role claim, accepting a list of scalars, a
// comma-separated string or a bare scalar. A missing claim yields an empty
// set.
func ExtractRoles(claims map[string]any, name string) []string {
	raw, ok := claims[name]
	return decodeRoleClaim(raw, ok).normalize()
}

// SplitRoles normalizes a comma-separated role list such as the X-Roles
// header.
func SplitRoles(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return []string{}
	}
	return roleClaim{shape: shapeDelimited, values: strings.Split(csv, ",")}.normalize()
}
