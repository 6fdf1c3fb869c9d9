package assess

import (
	"net"
	"net/url"
	"strings"
)

// genericPhrases are keyword entries with no retrieval value. Matching is
// case-insensitive on the whole phrase.
var genericPhrases = map[string]bool{
	"learn more":    true,
	"click here":    true,
	"read more":     true,
	"watch video":   true,
	"free course":   true,
	"online course": true,
	"more info":     true,
	"best tutorial": true,
}

// keywordSuffixes seed synthesized fallback keywords from a module title.
var keywordSuffixes = []string{"tutorial", "fundamentals", "best practices", "examples"}

// SanitizeModules applies best-effort hygiene to an already validated module
// list: risky resource URLs are dropped, keyword lists are clamped and topped
// up. It never rejects a module; soft corrections only. The input slice is
// not mutated.
func SanitizeModules(modules []ModuleItem, allowlist []string) []ModuleItem {
	out := make([]ModuleItem, len(modules))
	for i, m := range modules {
		m.ResourceURL = sanitizeURL(m.ResourceURL, allowlist)
		m.SearchKeywords = sanitizeKeywords(m.SearchKeywords, m.Title)
		out[i] = m
	}
	return out
}

// sanitizeURL returns the URL unchanged when it is a well-formed public
// HTTP(S) link permitted by the allowlist, and "" otherwise. Dropping the
// field degrades gracefully instead of failing the whole item.
func sanitizeURL(raw string, allowlist []string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	host := u.Hostname()
	if host == "" || !isPublicHost(host) {
		return ""
	}
	if allowlist != nil && !hostAllowed(host, allowlist) {
		return ""
	}
	return raw
}

// isPublicHost rejects loopback, private and link-local addresses as well as
// bare intranet names regardless of any allowlist.
func isPublicHost(host string) bool {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified())
	}
	// A name without a dot resolves only inside someone's network.
	return strings.Contains(host, ".")
}

func hostAllowed(host string, allowlist []string) bool {
	lower := strings.ToLower(host)
	for _, allowed := range allowlist {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if lower == allowed || strings.HasSuffix(lower, "."+allowed) {
			return true
		}
	}
	return false
}

// sanitizeKeywords clamps the list to MaxKeywords meaningful entries and,
// when fewer than MinKeywords remain, tops it up: first from the supplied
// entries, then synthesized from the title. With neither keywords nor a
// title there is nothing to hold the invariant with, so the empty list
// passes through.
func sanitizeKeywords(keywords []string, title string) []string {
	if len(keywords) == 0 && strings.TrimSpace(title) == "" {
		return keywords
	}

	kept := make([]string, 0, MaxKeywords)
	seen := make(map[string]bool)
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if !meaningfulKeyword(k) || seen[strings.ToLower(k)] {
			continue
		}
		kept = append(kept, k)
		seen[strings.ToLower(k)] = true
		if len(kept) == MaxKeywords {
			return kept
		}
	}
	if len(kept) >= MinKeywords {
		return kept
	}

	// Refill from the original entries before inventing anything.
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[strings.ToLower(k)] {
			continue
		}
		kept = append(kept, k)
		seen[strings.ToLower(k)] = true
		if len(kept) >= MinKeywords {
			return kept
		}
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return kept
	}
	for _, suffix := range keywordSuffixes {
		k := title + " " + suffix
		if seen[strings.ToLower(k)] {
			continue
		}
		kept = append(kept, k)
		seen[strings.ToLower(k)] = true
		if len(kept) >= MinKeywords {
			break
		}
	}
	return kept
}

// meaningfulKeyword wants a multi-word, non-generic phrase.
func meaningfulKeyword(k string) bool {
	if len(strings.Fields(k)) < 2 {
		return false
	}
	return !genericPhrases[strings.ToLower(k)]
}
