// Package governance implements the Omega action-logging pipeline:
// every externally visible action is conditional on a durable,
// schema-valid log record in the notebook vault, and followed by a
// result record after it runs.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/cortexhub/cortexhub/internal/config"
	"github.com/cortexhub/cortexhub/internal/errs"
	"github.com/cortexhub/cortexhub/internal/notebook"
)

// timestampRe is the strict record timestamp shape: RFC 3339 in UTC
// with an optional fractional second up to milliseconds and a literal
// Z suffix. Offsets are rejected.
var timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d{1,3})?Z$`)

// Omega enforces the four-step pipeline: pre-check, schema
// validation, durable write, post-verify.
type Omega struct {
	cfg    config.GovernanceConfig
	vault  *notebook.Vault
	logger *slog.Logger
}

// New wires the pipeline over the vault.
func New(cfg config.GovernanceConfig, vault *notebook.Vault, logger *slog.Logger) *Omega {
	if logger == nil {
		logger = slog.Default()
	}
	return &Omega{cfg: cfg, vault: vault, logger: logger}
}

// Stamp returns a record timestamp in the strict accepted format.
func Stamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// NewRecord builds a schema-complete record for an action.
func NewRecord(recType, source, action string, data map[string]any) notebook.LogRecord {
	return notebook.LogRecord{
		Timestamp: Stamp(),
		Type:      recType,
		Source:    source,
		Action:    action,
		Data:      data,
	}
}

// PreCheck verifies the vault root is writable, creating it when
// missing. With block_on_failure unset a failure downgrades to a
// warning.
func (o *Omega) PreCheck() error {
	err := o.vault.EnsureWritable()
	if err == nil {
		return nil
	}
	if o.cfg.BlockOnFailure {
		return err
	}
	o.logger.Warn("governance pre-check failed, continuing", "error", err)
	return nil
}

// Validate applies the record schema. Failures are
// GovernanceInvalidFormat regardless of which field is at fault.
func (o *Omega) Validate(rec notebook.LogRecord) error {
	const op = "governance: validate record"
	if !o.cfg.ValidateSchema {
		return nil
	}
	if rec.Type == "" {
		return errs.New(errs.KindGovernanceInvalidFormat, op, "record type is required")
	}
	if o.cfg.RequireSource && rec.Source == "" {
		return errs.New(errs.KindGovernanceInvalidFormat, op, "record source is required")
	}
	if o.cfg.RequireAction && rec.Action == "" {
		return errs.New(errs.KindGovernanceInvalidFormat, op, "record action is required")
	}
	if o.cfg.RequireTimestamp {
		if rec.Timestamp == "" {
			return errs.New(errs.KindGovernanceInvalidFormat, op, "record timestamp is required")
		}
		if o.cfg.ISO8601Strict {
			if !timestampRe.MatchString(rec.Timestamp) {
				return errs.Newf(errs.KindGovernanceInvalidFormat, op, "timestamp %q is not strict RFC 3339 UTC", rec.Timestamp)
			}
			if _, err := time.Parse("2006-01-02T15:04:05.000Z", normalizeFraction(rec.Timestamp)); err != nil {
				return errs.Newf(errs.KindGovernanceInvalidFormat, op, "timestamp %q does not parse: %v", rec.Timestamp, err)
			}
		}
	}
	return nil
}

// normalizeFraction pads or adds the fractional second so one layout
// parses every accepted shape.
func normalizeFraction(ts string) string {
	dot := -1
	for i, c := range ts {
		if c == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return ts[:len(ts)-1] + ".000Z"
	}
	frac := ts[dot+1 : len(ts)-1]
	for len(frac) < 3 {
		frac += "0"
	}
	return ts[:dot+1] + frac + "Z"
}

// Enforce runs pipeline steps one through three for a record: vault
// pre-check, schema validation, durable write. The returned bool
// reports whether the record was actually persisted.
func (o *Omega) Enforce(rec notebook.LogRecord) (bool, error) {
	if err := o.PreCheck(); err != nil {
		return false, err
	}
	if err := o.Validate(rec); err != nil {
		return false, err
	}
	if err := o.vault.LogEntry(rec); err != nil {
		if o.cfg.EnforceLogging {
			return false, err
		}
		o.logger.Warn("governance record not persisted, continuing", "action", rec.Action, "error", err)
		return false, nil
	}
	return true, nil
}

// Govern wraps an action with the full pipeline. The action runs only
// after its record is durable (or enforcement is off); afterwards a
// second record with action+"_result" captures the outcome. The
// result record is best-effort — a terminal response is never held
// hostage by the mirror write.
func (o *Omega) Govern(ctx context.Context, recType, source, action string, data map[string]any, fn func(context.Context) (any, error)) (any, error) {
	if _, err := o.Enforce(NewRecord(recType, source, action, data)); err != nil {
		return nil, err
	}

	result, actionErr := fn(ctx)

	resultData := map[string]any{
		"result": summarize(result, actionErr),
	}
	post := NewRecord(recType, source, action+"_result", resultData)
	if _, err := o.Enforce(post); err != nil {
		o.logger.Warn("governance result record failed", "action", action, "error", err)
	}
	return result, actionErr
}

// summarize condenses an action outcome for the result record.
func summarize(result any, err error) map[string]any {
	if err != nil {
		return map[string]any{
			"status": "error",
			"error":  err.Error(),
			"kind":   errs.KindOf(err).String(),
		}
	}
	out := map[string]any{"status": "success"}
	switch v := result.(type) {
	case nil:
	case string:
		out["summary"] = truncate(v, 200)
	case fmt.Stringer:
		out["summary"] = truncate(v.String(), 200)
	default:
		out["summary"] = truncate(fmt.Sprintf("%v", v), 200)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
