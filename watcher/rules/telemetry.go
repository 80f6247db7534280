// Package rules holds the per-vehicle door state machine and the conditions that
// trigger remote commands. Everything here is pure: time is passed in by the caller.
package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNone Kind = iota
	KindNumber
	KindBool
	KindString
)

// Value is a single telemetry signal value: a number, a boolean or a string.
// The zero Value is "absent" and reads as false / 0.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func String(s string) Value  { return Value{kind: KindString, str: s} }

func (v Value) Kind() Kind { return v.kind }

// Truthy reports whether the value counts as "on". Numbers are true when non-zero,
// strings when non-empty and not a spelled-out false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.str)) {
		case "", "0", "false", "off", "no":
			return false
		}
		return true
	}
	return false
}

// Float returns the numeric reading of the value, or 0 when it has none.
func (v Value) Float() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.str
	}
	return "<none>"
}

// Interface returns the value as float64, bool, string or nil.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindString:
		return v.str
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, ok := ValueOf(raw)
	if !ok && raw != nil {
		return errors.Errorf("unsupported signal value %s", string(data))
	}
	*v = parsed
	return nil
}

// ValueOf converts a decoded JSON (or Go scalar) value into a Value. Objects, arrays
// and nil are not signals and report false.
func ValueOf(raw interface{}) (Value, bool) {
	switch x := raw.(type) {
	case bool:
		return Bool(x), true
	case float64:
		return Number(x), true
	case float32:
		return Number(float64(x)), true
	case int:
		return Number(float64(x)), true
	case int64:
		return Number(float64(x)), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return String(x.String()), true
		}
		return Number(f), true
	case string:
		return String(x), true
	}
	return Value{}, false
}

// TelemetryRecord is one timestamped snapshot of a device's signals. Records are
// immutable: the signal map is copied on construction and never handed out.
type TelemetryRecord struct {
	Ident       string
	TimestampMs int64
	signals     map[string]Value
}

func NewRecord(ident string, timestampMs int64, signals map[string]Value) TelemetryRecord {
	copied := make(map[string]Value, len(signals))
	for k, v := range signals {
		copied[k] = v
	}
	return TelemetryRecord{
		Ident:       ident,
		TimestampMs: timestampMs,
		signals:     copied,
	}
}

// DecodeSignals validates a loosely typed payload into signals. Keys whose values
// are not scalars are dropped and returned so the caller can log them.
func DecodeSignals(raw map[string]interface{}) (map[string]Value, []string) {
	signals := make(map[string]Value, len(raw))
	var dropped []string
	for k, x := range raw {
		v, ok := ValueOf(x)
		if !ok {
			dropped = append(dropped, k)
			continue
		}
		signals[k] = v
	}
	sort.Strings(dropped)
	return signals, dropped
}

// Signal looks up a signal by name.
func (r TelemetryRecord) Signal(name string) (Value, bool) {
	v, ok := r.signals[name]
	return v, ok
}

// Bool is the truthiness of the named signal; missing signals are false.
func (r TelemetryRecord) Bool(name string) bool {
	return r.signals[name].Truthy()
}

// Number is the numeric reading of the named signal; missing signals are 0.
func (r TelemetryRecord) Number(name string) float64 {
	return r.signals[name].Float()
}

func (r TelemetryRecord) Len() int {
	return len(r.signals)
}

// Signals returns a copy of the record's signals.
func (r TelemetryRecord) Signals() map[string]Value {
	out := make(map[string]Value, len(r.signals))
	for k, v := range r.signals {
		out[k] = v
	}
	return out
}

func (r TelemetryRecord) String() string {
	return fmt.Sprintf("%s@%d (%d signals)", r.Ident, r.TimestampMs, len(r.signals))
}

type recordJSON struct {
	Ident       string           `json:"ident"`
	TimestampMs int64            `json:"timestamp_ms"`
	Signals     map[string]Value `json:"signals"`
}

func (r TelemetryRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Ident:       r.Ident,
		TimestampMs: r.TimestampMs,
		Signals:     r.signals,
	})
}

func (r *TelemetryRecord) UnmarshalJSON(data []byte) error {
	var decoded recordJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return errors.Wrap(err, "cannot decode telemetry record")
	}
	*r = NewRecord(decoded.Ident, decoded.TimestampMs, decoded.Signals)
	return nil
}
