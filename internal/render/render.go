// Package render substitutes {{ Placeholder }} variables in campaign templates.
//
// Placeholder keys and recipient column names go through the same Normalize
// function, so "{{ First Name }}" resolves against a "First Name" column.
// Unknown placeholders are left in the output untouched.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"PulseCampaign/internal/models"
)

// fallbackKey replaces keys that normalize to nothing.
const fallbackKey = "col"

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\s.-]+?)\s*\}\}`)

// Context maps normalized keys to their rendered string values.
type Context map[string]string

// Normalize converts a column or placeholder name into a safe lookup key.
// The result only contains [A-Za-z0-9_], never starts or ends with an
// underscore, and is never empty. Normalize(Normalize(k)) == Normalize(k).
func Normalize(key string) string {
	key = strings.TrimSpace(key)

	var b strings.Builder
	b.Grow(len(key) + 1)
	for i, r := range key {
		if i == 0 && r >= '0' && r <= '9' {
			b.WriteByte('_')
		}
		if isWordChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return fallbackKey
	}
	return out
}

func isWordChar(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// Render replaces every placeholder whose normalized key exists in ctx.
// Missing keys keep their original placeholder text.
func Render(tmpl string, ctx Context) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		if v, ok := ctx[Normalize(sub[1])]; ok {
			return v
		}
		return match
	})
}

// Missing returns the normalized keys referenced by the templates that ctx
// cannot resolve, sorted and without duplicates.
func Missing(ctx Context, templates ...string) []string {
	seen := make(map[string]struct{})
	for _, t := range templates {
		for _, sub := range placeholderRe.FindAllStringSubmatch(t, -1) {
			key := Normalize(sub[1])
			if _, ok := ctx[key]; !ok {
				seen[key] = struct{}{}
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BuildContext normalizes every recipient key. Keys are visited in sorted
// order so that colliding columns resolve the same way on every tick.
// Nil values are skipped and behave as missing.
func BuildContext(rcpt models.Recipient) Context {
	keys := make([]string, 0, len(rcpt))
	for k := range rcpt {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx := make(Context, len(rcpt))
	for _, k := range keys {
		v := rcpt[k]
		if v == nil {
			continue
		}
		ctx[Normalize(k)] = Stringify(v)
	}
	return ctx
}

// Stringify renders a scalar recipient value as text. Whole JSON numbers
// lose their trailing ".0".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
