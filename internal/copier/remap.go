package copier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/user/expmirror/internal/transfer"
	"github.com/user/expmirror/pkg/tracking"
)

const experimentKeyParam = "experimentKey"

// Remapper rewrites asset references inside a composite payload. References
// are query parameters of URL-shaped strings (…/download?assetId=X&…) and
// object fields named after a reference key.
type Remapper struct {
	keys          map[string]bool
	ids           transfer.IdMap
	experimentKey string
	param         *regexp.Regexp

	// Unmapped collects references with no entry in the IdMap.
	Unmapped []string
}

// NewRemapper builds a Remapper for one composite kind. experimentKey
// replaces any experimentKey query parameter when non-empty.
func NewRemapper(kind tracking.CompositeKind, ids transfer.IdMap, experimentKey string) *Remapper {
	keys := make(map[string]bool, len(kind.ReferenceKeys))
	names := make([]string, 0, len(kind.ReferenceKeys)+1)
	for _, k := range kind.ReferenceKeys {
		keys[k] = true
		names = append(names, regexp.QuoteMeta(k))
	}
	names = append(names, experimentKeyParam)
	return &Remapper{
		keys:          keys,
		ids:           ids,
		experimentKey: experimentKey,
		param:         regexp.MustCompile(`([?&])(` + strings.Join(names, "|") + `)=([^&#"\s]*)`),
	}
}

// Payload rewrites a JSON document. Numbers are kept verbatim.
func (r *Remapper) Payload(data []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.walk(doc)); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Metadata rewrites an asset's metadata string. Empty metadata stays empty.
func (r *Remapper) Metadata(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return s, nil
	}
	out, err := r.Payload([]byte(s))
	if err != nil {
		return "", fmt.Errorf("metadata: %w", err)
	}
	return string(out), nil
}

func (r *Remapper) walk(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, child := range v {
			if s, ok := child.(string); ok && r.keys[k] {
				v[k] = r.lookup(s)
				continue
			}
			v[k] = r.walk(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = r.walk(child)
		}
		return v
	case string:
		return r.rewriteURL(v)
	default:
		return v
	}
}

func (r *Remapper) rewriteURL(s string) string {
	if !strings.ContainsAny(s, "?&") {
		return s
	}
	return r.param.ReplaceAllStringFunc(s, func(match string) string {
		m := r.param.FindStringSubmatch(match)
		sep, name, value := m[1], m[2], m[3]
		if name == experimentKeyParam {
			if r.experimentKey == "" {
				return match
			}
			return sep + name + "=" + url.QueryEscape(r.experimentKey)
		}
		old, err := url.QueryUnescape(value)
		if err != nil {
			old = value
		}
		return sep + name + "=" + url.QueryEscape(r.lookup(old))
	})
}

func (r *Remapper) lookup(old string) string {
	if old == "" {
		return old
	}
	if id, ok := r.ids.Lookup(old); ok {
		return id
	}
	r.Unmapped = append(r.Unmapped, old)
	return old
}
