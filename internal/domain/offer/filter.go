package offer

import "strings"

// Sanitize lowercases s and strips every non-alphanumeric character. It is
// the normal form used for source matching: "Woolworths AU" and
// "woolworths.com.au" both reduce to forms containing "woolworths".
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SourceAllowed reports whether an offer with the given source name and link
// matches the allow-list. Missing fields are treated as empty strings; the
// match succeeds when either sanitized form contains a sanitized allowed
// source as a substring.
func SourceAllowed(source, link string, allowed []string) bool {
	src := Sanitize(source)
	lnk := Sanitize(link)
	for _, a := range allowed {
		key := Sanitize(a)
		if key == "" {
			continue
		}
		if strings.Contains(src, key) || strings.Contains(lnk, key) {
			return true
		}
	}
	return false
}

// FilterBySource keeps only offers from allow-listed sources. The result is
// always a subset of the input, in input order.
func FilterBySource(offers []Offer, allowed []string) []Offer {
	kept := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if SourceAllowed(o.Source, o.Link, allowed) {
			kept = append(kept, o)
		}
	}
	return kept
}
