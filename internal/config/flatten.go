package config

import (
	"strings"
)

// Flatten turns the nested config document into dotted keys, the form
// `config get` and `config set` address values by. Empty sections vanish.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, section map[string]any)
	walk = func(prefix string, section map[string]any) {
		for k, v := range section {
			if prefix != "" {
				k = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(k, sub)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten rebuilds sections from dotted keys. A scalar sitting where a
// section is needed is replaced by the section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		section := out
		for _, p := range parts[:len(parts)-1] {
			section = subsection(section, p)
		}
		section[parts[len(parts)-1]] = v
	}
	return out
}

func subsection(m map[string]any, name string) map[string]any {
	if sub, ok := m[name].(map[string]any); ok {
		return sub
	}
	sub := make(map[string]any)
	m[name] = sub
	return sub
}

// MaskSecrets hides endpoint keys and the bot token in a flattened config,
// keeping the last four characters so two keys can still be told apart.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !IsSecretKey(k) || !ok || s == "" {
			out[k] = v
			continue
		}
		out[k] = "***" + s[max(0, len(s)-4):]
	}
	return out
}
