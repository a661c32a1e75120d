package config

import (
	"testing"
)

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "top level",
			in:   map[string]any{"workers": 8.0, "output": "./mirror"},
			want: map[string]any{"workers": 8.0, "output": "./mirror"},
		},
		{
			name: "nested endpoint",
			in: map[string]any{
				"source":    map[string]any{"base_url": "https://a", "api_key": "k1"},
				"log_level": "info",
			},
			want: map[string]any{"source.base_url": "https://a", "source.api_key": "k1", "log_level": "info"},
		},
		{
			name: "deep",
			in:   map[string]any{"a": map[string]any{"b": map[string]any{"c": "deep"}}},
			want: map[string]any{"a.b.c": "deep"},
		},
		{
			name: "empty nested map produces nothing",
			in:   map[string]any{"http": map[string]any{}},
			want: map[string]any{},
		},
		{
			name: "mixed types",
			in: map[string]any{
				"http":  map[string]any{"enabled": true, "listen": ":8484"},
				"ratio": 0.5,
			},
			want: map[string]any{"http.enabled": true, "http.listen": ":8484", "ratio": 0.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Flatten(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d keys, got %d (%v)", len(tt.want), len(got), got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: expected %v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestUnflatten_Nested(t *testing.T) {
	got := Unflatten(map[string]any{
		"destination.base_url": "https://b",
		"destination.api_key":  "k2",
		"a.b.c":                "deep",
		"log_level":            "info",
	})
	dst, ok := got["destination"].(map[string]any)
	if !ok {
		t.Fatalf("expected destination to be map, got %T", got["destination"])
	}
	if dst["base_url"] != "https://b" || dst["api_key"] != "k2" {
		t.Errorf("unexpected destination %v", dst)
	}
	b := got["a"].(map[string]any)["b"].(map[string]any)
	if b["c"] != "deep" {
		t.Errorf("expected a.b.c=deep, got %v", b["c"])
	}
	if got["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", got["log_level"])
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	original := map[string]any{
		"data_dir":    "/home/test/.expmirror",
		"source":      map[string]any{"base_url": "https://a", "api_key": "k1", "burst": 20.0},
		"destination": map[string]any{"api_key": "k2"},
		"telegram":    map[string]any{"token": "bot-token-abc"},
	}
	restored := Unflatten(Flatten(original))

	if restored["data_dir"] != original["data_dir"] {
		t.Errorf("data_dir mismatch: %v != %v", restored["data_dir"], original["data_dir"])
	}
	for _, section := range []string{"source", "destination", "telegram"} {
		got := restored[section].(map[string]any)
		want := original[section].(map[string]any)
		for k, v := range want {
			if got[k] != v {
				t.Errorf("%s.%s mismatch: %v != %v", section, k, got[k], v)
			}
		}
	}
}

func TestMaskSecrets(t *testing.T) {
	got := MaskSecrets(map[string]any{
		"source.base_url":     "https://a",
		"source.api_key":      "sk-test123456",
		"destination.api_key": "ab",
		"telegram.token":      "123456:ABCdefGHIjkl",
		"log_level":           "info",
	})
	want := map[string]any{
		"source.base_url":     "https://a",
		"source.api_key":      "***3456",
		"destination.api_key": "***ab",
		"telegram.token":      "***Ijkl",
		"log_level":           "info",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, got[k])
		}
	}
}

func TestMaskSecrets_EmptyAndExact(t *testing.T) {
	got := MaskSecrets(map[string]any{"source.api_key": "", "destination.api_key": "abcd"})
	if got["source.api_key"] != "" {
		t.Errorf("expected empty string to remain empty, got %v", got["source.api_key"])
	}
	if got["destination.api_key"] != "***abcd" {
		t.Errorf("expected ***abcd for 4-char secret, got %v", got["destination.api_key"])
	}
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"source.api_key":      true,
		"destination.api_key": true,
		"telegram.token":      true,
		"source.base_url":     false,
		"workers":             false,
	} {
		if IsSecretKey(key) != want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", key, !want, want)
		}
	}
}

func TestMaskSecrets_NonStringLeftAlone(t *testing.T) {
	got := MaskSecrets(map[string]any{"telegram.token": nil, "source.api_key": 42.0})
	if got["telegram.token"] != nil {
		t.Errorf("expected nil token to stay nil, got %v", got["telegram.token"])
	}
	if got["source.api_key"] != 42.0 {
		t.Errorf("expected non-string key to pass through, got %v", got["source.api_key"])
	}
}
