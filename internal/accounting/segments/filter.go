// Package segments evaluates segment filter expressions against account
// segment values.
//
// A single expression is one of, in precedence order:
//
//	*, ALL       any value
//	A|B|C        any listed element (each element is itself an expression)
//	MIN:MAX      inclusive string range, MIN-MAX is accepted too
//	10*, *10     prefix or suffix wildcard
//	1000         exact value
//
// A compound filter is a conjunction of key=expression clauses separated by
// commas or semicolons, e.g. "Company=01|02;Account=4000:4999".
package segments

import "strings"

// Evaluate reports whether value satisfies expr. Malformed expressions never
// match.
func Evaluate(value, expr string) bool {
	expr = strings.TrimSpace(expr)
	value = strings.TrimSpace(value)
	if expr == "" {
		return false
	}
	if expr == "*" || strings.EqualFold(expr, "ALL") {
		return true
	}
	if strings.Contains(expr, "|") {
		for _, part := range strings.Split(expr, "|") {
			if Evaluate(value, part) {
				return true
			}
		}
		return false
	}
	if lo, hi, ok := splitRange(expr); ok {
		return value >= lo && value <= hi
	}
	if strings.Contains(expr, "*") {
		return matchWildcard(value, expr)
	}
	return value == expr
}

// Match reports whether every clause of filter holds for values. Keys are
// compared case-insensitively. An empty filter matches everything; a clause
// naming a key absent from values does not match.
func Match(values map[string]string, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	clauses := strings.FieldsFunc(filter, func(r rune) bool { return r == ',' || r == ';' })
	if len(clauses) == 0 {
		return false
	}
	for _, clause := range clauses {
		key, expr, ok := strings.Cut(clause, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return false
		}
		value, found := lookup(values, key)
		if !found || !Evaluate(value, expr) {
			return false
		}
	}
	return true
}

func lookup(values map[string]string, key string) (string, bool) {
	if v, ok := values[key]; ok {
		return v, true
	}
	for k, v := range values {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func splitRange(expr string) (string, string, bool) {
	for _, sep := range []string{":", "-"} {
		if !strings.Contains(expr, sep) {
			continue
		}
		parts := strings.Split(expr, sep)
		if len(parts) != 2 {
			return "", "", false
		}
		lo, hi := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if lo == "" || hi == "" {
			return "", "", false
		}
		return lo, hi, true
	}
	return "", "", false
}

func matchWildcard(value, expr string) bool {
	leading := strings.HasPrefix(expr, "*")
	trailing := strings.HasSuffix(expr, "*")
	core := strings.Trim(expr, "*")
	if strings.Contains(core, "*") {
		return false
	}
	switch {
	case leading && trailing:
		return strings.Contains(value, core)
	case trailing:
		return strings.HasPrefix(value, core)
	case leading:
		return strings.HasSuffix(value, core)
	}
	return false
}
