package campaign

import (
	"sort"
	"strings"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/render"
)

const (
	emailKey          = "email"
	missingEmail      = "(missing)"
	invalidEmailError = "Invalid email"
	maxErrorLen       = 180
)

// resolveEmail finds the recipient's address under any casing of "email".
// An exact "Email" key wins; otherwise keys are tried in sorted order.
func resolveEmail(rcpt models.Recipient) (addr string, ok bool) {
	if v, found := rcpt["Email"]; found {
		addr = strings.TrimSpace(render.Stringify(v))
		return addr, email.Valid(addr)
	}

	keys := make([]string, 0, len(rcpt))
	for k := range rcpt {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.EqualFold(strings.TrimSpace(k), emailKey) {
			addr = strings.TrimSpace(render.Stringify(rcpt[k]))
			return addr, email.Valid(addr)
		}
	}
	return "", false
}

// displayName picks a friendly name for the To header.
func displayName(ctx render.Context) string {
	for _, k := range []string{"Name", "First_Name"} {
		if v := strings.TrimSpace(ctx[k]); v != "" {
			return v
		}
	}
	return ""
}

// resolveSender renders the optional sender templates. A rendered address
// is only used when it is valid and fully substituted; the name template
// only applies together with it.
func resolveSender(job *models.Job, ctx render.Context, fallback email.Address) email.Address {
	if job.FromEmailTemplate == "" {
		return fallback
	}

	addr := strings.TrimSpace(render.Render(job.FromEmailTemplate, ctx))
	if strings.Contains(addr, "{{") || !email.Valid(addr) {
		return fallback
	}

	from := email.Address{Email: addr, Name: fallback.Name}
	if job.FromNameTemplate != "" {
		name := strings.TrimSpace(render.Render(job.FromNameTemplate, ctx))
		if name != "" && !strings.Contains(name, "{{") {
			from.Name = name
		}
	}
	return from
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
