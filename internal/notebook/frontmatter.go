// Package notebook provides scoped markdown I/O inside a configured
// vault root: atomic writes with optional frontmatter, per-day action
// logs, and bounded listing and search. Writes to the same file are
// serialized with a per-path lock; different files proceed in
// parallel.
package notebook

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is an ordered key/value header. Formatting is
// deterministic: keys emit in insertion order, string lists as block
// lists, nested maps as single-indent blocks with sorted keys.
type Frontmatter struct {
	keys []string
	vals map[string]any
}

func NewFrontmatter() *Frontmatter {
	return &Frontmatter{vals: map[string]any{}}
}

// Set adds or replaces a key. A replaced key keeps its original
// position.
func (f *Frontmatter) Set(key string, value any) *Frontmatter {
	if _, ok := f.vals[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.vals[key] = value
	return f
}

func (f *Frontmatter) Get(key string) (any, bool) {
	v, ok := f.vals[key]
	return v, ok
}

func (f *Frontmatter) Len() int { return len(f.keys) }

// Format renders the delimited frontmatter block, trailing newline
// included.
func (f *Frontmatter) Format() string {
	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range f.keys {
		writeYAMLValue(&b, 0, k, f.vals[k])
	}
	b.WriteString("---\n")
	return b.String()
}

func writeYAMLValue(b *strings.Builder, indent int, key string, v any) {
	pad := strings.Repeat("  ", indent)
	switch val := v.(type) {
	case []string:
		fmt.Fprintf(b, "%s%s:\n", pad, key)
		for _, item := range val {
			fmt.Fprintf(b, "%s  - %s\n", pad, yamlScalar(item))
		}
	case []any:
		fmt.Fprintf(b, "%s%s:\n", pad, key)
		for _, item := range val {
			fmt.Fprintf(b, "%s  - %s\n", pad, yamlScalar(item))
		}
	case map[string]any:
		fmt.Fprintf(b, "%s%s:\n", pad, key)
		nested := make([]string, 0, len(val))
		for k := range val {
			nested = append(nested, k)
		}
		sort.Strings(nested)
		for _, k := range nested {
			writeYAMLValue(b, indent+1, k, val[k])
		}
	case map[string]string:
		fmt.Fprintf(b, "%s%s:\n", pad, key)
		nested := make([]string, 0, len(val))
		for k := range val {
			nested = append(nested, k)
		}
		sort.Strings(nested)
		for _, k := range nested {
			fmt.Fprintf(b, "%s  %s: %s\n", pad, k, yamlScalar(val[k]))
		}
	default:
		fmt.Fprintf(b, "%s%s: %s\n", pad, key, yamlScalar(v))
	}
}

// yamlScalar renders a scalar, quoting strings that YAML would
// otherwise reinterpret.
func yamlScalar(v any) string {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, ":#{}[]\n\"'") ||
			strings.HasPrefix(val, " ") || strings.HasSuffix(val, " ") {
			return strconv.Quote(val)
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// SplitFrontmatter separates a delimited frontmatter block from the
// body. Content without a leading delimiter parses as body only.
func SplitFrontmatter(content string) (map[string]any, string, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, nil
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, content, nil
	}
	block := rest[:end+1]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return nil, "", fmt.Errorf("notebook: parse frontmatter: %w", err)
	}
	return fm, body, nil
}
