package util

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// NormalizeSender extracts and normalizes an email address from a From header.
// - Parses RFC 5322 "From" values like "Name <user+alias@Example.COM>"
// - Lowercases
// - Strips +alias in local part: user+news@x.com -> user@x.com
// Returns empty string if parsing fails or address is missing.
func NormalizeSender(fromHeader string) string {
	if fromHeader == "" {
		return ""
	}
	addr, err := mail.ParseAddress(fromHeader)
	if err != nil || addr == nil {
		// Some headers may be a list; try a crude fallback by splitting on comma.
		addr = nil
		for _, p := range strings.Split(fromHeader, ",") {
			a, e := mail.ParseAddress(strings.TrimSpace(p))
			if e == nil && a != nil {
				addr = a
				break
			}
		}
		if addr == nil {
			return ""
		}
	}

	email := strings.ToLower(strings.TrimSpace(addr.Address))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local := email[:at]
	domain := email[at+1:]

	if plus := strings.IndexByte(local, '+'); plus > -1 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// ReplyAddress returns the bare address of a "Display <addr>" header, or the
// header unchanged when it has no angle brackets.
func ReplyAddress(fromHeader string) string {
	open := strings.LastIndexByte(fromHeader, '<')
	if open < 0 {
		return strings.TrimSpace(fromHeader)
	}
	rest := fromHeader[open+1:]
	if end := strings.IndexByte(rest, '>'); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// FromAccount reports whether the sender header names the account address.
// The comparison is a case-insensitive substring match so that display-name
// forms still count.
func FromAccount(fromHeader, account string) bool {
	account = strings.TrimSpace(account)
	if account == "" {
		return false
	}
	return strings.Contains(strings.ToLower(fromHeader), strings.ToLower(account))
}

// NormalizeIndexID rewrites an index identifier so that it matches
// [a-zA-Z][a-zA-Z0-9_]*. Hyphens and other invalid characters become
// underscores; a leading non-letter gets an "idx_" prefix.
func NormalizeIndexID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || !isASCIILetter(out[0]) {
		out = "idx_" + out
	}
	return out
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// EnvKey turns an email address into the suffix used for per-account
// environment variables: '@' and '.' become '_'.
func EnvKey(email string) string {
	return strings.NewReplacer("@", "_", ".", "_").Replace(strings.TrimSpace(email))
}
