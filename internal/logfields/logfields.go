package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID    = "build_id"
	KeyScanID     = "scan_id"
	KeyStage      = "stage"
	KeyItemID     = "item_id"
	KeyReason     = "reason"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func ScanID(id string) slog.Attr      { return slog.String(KeyScanID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func ItemID(id int64) slog.Attr       { return slog.Int64(KeyItemID, id) }
func Reason(r string) slog.Attr       { return slog.String(KeyReason, r) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
