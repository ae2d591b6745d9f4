package redact

import "strings"

// Mask applies the deterministic masking rules for the given field kind and
// level. Strings shorter than a rule's threshold are returned unchanged under
// LevelWeak; Normal and Strong always apply.
func Mask(value string, kind Kind, level Level) string {
	if value == "" {
		return value
	}
	switch kind {
	case KindName:
		return maskName(value, level)
	case KindEmail:
		return maskEmail(value, level)
	case KindPhone:
		return maskPhone(value, level)
	default:
		return maskDefault(value, level)
	}
}

func stars(n int) string { return strings.Repeat("*", n) }

// keepPrefix keeps the first n runes and masks the rest.
func keepPrefix(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[:n]) + stars(len(r)-n)
}

func maskDefault(value string, level Level) string {
	r := []rune(value)
	switch level {
	case LevelWeak:
		// keep the first ceil(n/2) runes
		return keepPrefix(value, (len(r)+1)/2)
	case LevelStrong:
		return stars(len(r))
	default:
		return keepPrefix(value, 2)
	}
}

// maskName masks per whitespace-separated word, preserving spacing.
func maskName(value string, level Level) string {
	switch level {
	case LevelWeak:
		return keepPrefix(value, 1)
	case LevelStrong:
		return maskNonSpace(value)
	default:
		words := strings.Fields(value)
		for i, w := range words {
			r := []rune(w)
			if len(r) <= 2 {
				words[i] = w
				continue
			}
			words[i] = string(r[0]) + stars(len(r)-2) + string(r[len(r)-1])
		}
		return strings.Join(words, " ")
	}
}

func maskNonSpace(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune('*')
		}
	}
	return b.String()
}

func maskEmail(value string, level Level) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return maskDefault(value, level)
	}
	local, domain := value[:at], value[at+1:]

	switch level {
	case LevelWeak:
		if len([]rune(local)) < 3 {
			return value
		}
		return keepPrefix(local, 3) + "@" + domain
	case LevelStrong:
		label, rest := splitDomainLabel(domain)
		return stars(len([]rune(local))) + "@" + stars(len([]rune(label))) + rest
	default:
		label, rest := splitDomainLabel(domain)
		return keepPrefix(local, 2) + "@" + keepPrefix(label, 2) + rest
	}
}

// splitDomainLabel separates the first domain label from the remainder
// (which keeps its leading dot), leaving the TLD untouched by callers.
func splitDomainLabel(domain string) (label, rest string) {
	if dot := strings.Index(domain, "."); dot >= 0 {
		return domain[:dot], domain[dot:]
	}
	return domain, ""
}

func maskPhone(value string, level Level) string {
	r := []rune(value)
	n := len(r)
	switch level {
	case LevelWeak:
		if n < 4 {
			return value
		}
		return string(r[:n-4]) + stars(4)
	case LevelStrong:
		if n <= 8 {
			return stars(n)
		}
		return string(r[:n-8]) + stars(8)
	default:
		if n <= 4 {
			return stars(n)
		}
		start := (n - 4) / 2
		return string(r[:start]) + stars(4) + string(r[start+4:])
	}
}
