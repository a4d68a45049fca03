package config

import (
	"net/url"
	"strings"
)

// maskers hides the secret part of a value by key. Keys without a masker
// are shown as is.
var maskers = map[string]func(string) string{
	"api.token":         maskTail,
	"telegram.token":    maskBotToken,
	"storage.redis_url": maskURLPassword,
}

// MaskValue returns value as `config list` shows it for key. Empty values
// stay empty.
func MaskValue(key, value string) string {
	mask, ok := maskers[key]
	if !ok || value == "" {
		return value
	}
	return mask(value)
}

// maskTail keeps the last four characters of an opaque token.
func maskTail(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

// maskBotToken keeps the bot id of a "<bot id>:<secret>" Telegram token.
func maskBotToken(s string) string {
	id, _, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return maskTail(s)
	}
	return id + ":***"
}

// maskURLPassword redacts the password of a connection URL and keeps the
// host and database visible. Unparsable values are hidden entirely.
func maskURLPassword(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}

// Flatten converts nested config sections into dot-separated keys, e.g.
// {"api": {"token": "x"}} becomes {"api.token": "x"}. Lists such as
// sync.agents stay single values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar in the way of a deeper key
// is replaced by a section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		section := out
		parts := strings.Split(k, ".")
		for _, part := range parts[:len(parts)-1] {
			next, ok := section[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				section[part] = next
			}
			section = next
		}
		section[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with secret values masked by MaskValue.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok {
			v = MaskValue(k, s)
		}
		out[k] = v
	}
	return out
}
