package source

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one external row: column name to raw value.
type Row map[string]any

// String returns the column as text. Missing and NULL columns yield "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the column as an integer.
func (r Row) Int(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	case nil:
		return 0, false
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(r.String(col)), 10, 64)
		return n, err == nil
	}
}

// Time returns the column as a time. Text values are parsed with layout,
// then with the common SQL layouts.
func (r Row) Time(col, layout string) (time.Time, bool) {
	switch v := r[col].(type) {
	case time.Time:
		return v, !v.IsZero()
	case nil:
		return time.Time{}, false
	}
	s := strings.TrimSpace(r.String(col))
	if s == "" {
		return time.Time{}, false
	}
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	if layout != "" {
		layouts = append([]string{layout}, layouts...)
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
