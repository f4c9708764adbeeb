package notebook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cortexhub/cortexhub/internal/errs"
)

// LogRecord is one governed action entry for the daily log.
type LogRecord struct {
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
}

// Well-known Data keys rendered as their own sections. Anything else
// lands under Metadata.
var recordSections = []string{"context", "changes", "result", "artifacts", "references"}

// TodayLogName returns the vault-relative path of the current daily
// log file.
func (v *Vault) TodayLogName() string {
	return v.logNameFor(time.Now().UTC())
}

func (v *Vault) logNameFor(t time.Time) string {
	return filepath.Join(v.logsFolder, "Log_Global_"+t.UTC().Format("2006-01-02")+".md")
}

// LogEntry appends a formatted record block to today's log file,
// creating the file with its frontmatter header when absent. The
// append is atomic under the file's path lock.
func (v *Vault) LogEntry(rec LogRecord) error {
	const op = "notebook: log entry"
	now := time.Now().UTC()
	name := v.logNameFor(now)
	path, err := v.resolve(name)
	if err != nil {
		return err
	}

	l := v.pathLock(path)
	l.Lock()
	defer l.Unlock()

	existing, err := os.ReadFile(path)
	var content string
	switch {
	case os.IsNotExist(err):
		header := NewFrontmatter().
			Set("date", now.Format("2006-01-02")).
			Set("cli", "all-clients").
			Set("version", v.version)
		content = header.Format() + "\n# Action Log " + now.Format("2006-01-02") + "\n\n" + formatRecord(rec)
	case err != nil:
		return errs.Wrap(errs.KindInternal, op, err)
	default:
		content = strings.TrimRight(string(existing), "\n") + "\n\n" + formatRecord(rec)
	}

	if err := writeAtomic(path, content); err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}
	return nil
}

// formatRecord renders one record as a level-3 heading followed by its
// sections.
func formatRecord(rec LogRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### [%s] %s :: %s\n\n", rec.Timestamp, strings.ToUpper(rec.Source), strings.ToUpper(rec.Action))

	b.WriteString("**Metadata**\n")
	fmt.Fprintf(&b, "- type: %s\n", rec.Type)
	fmt.Fprintf(&b, "- source: %s\n", rec.Source)
	fmt.Fprintf(&b, "- action: %s\n", rec.Action)

	sectioned := map[string]bool{}
	for _, s := range recordSections {
		sectioned[s] = true
	}
	var extra []string
	for k := range rec.Data {
		if !sectioned[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(&b, "- %s: %s\n", k, renderValue(rec.Data[k]))
	}

	for _, section := range recordSections {
		val, ok := rec.Data[section]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n**%s**\n", titleCase(section))
		writeSection(&b, val)
	}
	return b.String()
}

func writeSection(b *strings.Builder, val any) {
	switch v := val.(type) {
	case string:
		b.WriteString(v)
		b.WriteString("\n")
	case []string:
		for _, item := range v {
			fmt.Fprintf(b, "- %s\n", item)
		}
	case []any:
		for _, item := range v {
			fmt.Fprintf(b, "- %s\n", renderValue(item))
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "- %s: %s\n", k, renderValue(v[k]))
		}
	default:
		fmt.Fprintf(b, "%s\n", renderValue(v))
	}
}

func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
