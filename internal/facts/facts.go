// Package facts defines the clinical fact set extracted from survivor
// testimony: a closed record of exactly eight named fields whose values are
// either absent, a single string, or a sequence of strings.
//
// The schema is closed in both directions. A Set always carries all eight
// keys — "not stated" is an explicit absent value, never a missing key — and
// extra keys produced by a generation step are discarded on decode.
package facts

import (
	"encoding/json"
	"fmt"
)

// Kind tags the shape of a Value.
type Kind int

const (
	// KindAbsent marks a value that was not stated or could not be
	// extracted. Distinct from an empty string.
	KindAbsent Kind = iota

	// KindString marks a single string value.
	KindString

	// KindList marks a sequence of strings.
	KindList
)

// Value is one clinical fact field: absent, a string, or a string sequence.
// The zero Value is absent.
type Value struct {
	kind Kind
	str  string
	list []string
}

// Absent is the explicit "value not known / not stated" marker.
var Absent = Value{}

// String wraps a single string value. Note that String("") is a present
// empty string, not Absent.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// List wraps a string sequence value.
func List(items ...string) Value {
	return Value{kind: KindList, list: items}
}

// Kind returns the shape tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value is the absent sentinel.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Str returns the string content for KindString values and "" otherwise.
func (v Value) Str() string { return v.str }

// AsList coerces the value to a string sequence: a single string becomes a
// one-element sequence, a sequence is copied through, and absence produces
// an empty (non-nil) sequence.
func (v Value) AsList() []string {
	switch v.kind {
	case KindString:
		return []string{v.str}
	case KindList:
		out := make([]string, len(v.list))
		copy(out, v.list)
		return out
	default:
		return []string{}
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the value as null, a JSON string, or a JSON array.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindList:
		return json.Marshal(v.list)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes model-produced JSON leniently. Strings and arrays of
// strings map to their obvious Value; null and any other shape (numbers,
// booleans, objects, mixed arrays) decode to Absent — extraction ambiguity
// is modelled as "nothing extracted", never as a decode failure.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = String(s)
		return nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err == nil {
		strs := make([]string, 0, len(items))
		for _, it := range items {
			str, ok := it.(string)
			if !ok {
				*v = Absent
				return nil
			}
			strs = append(strs, str)
		}
		*v = Value{kind: KindList, list: strs}
		return nil
	}

	*v = Absent
	return nil
}

// FieldNames lists the eight canonical fact fields in extraction order.
var FieldNames = []string{
	"injury_type",
	"body_location",
	"injury_color_or_stage",
	"mechanism_of_injury",
	"timing_of_assault",
	"repeated_assault",
	"drug_facilitated_indicators",
	"survivor_uncertainty_notes",
}

// Set is the closed clinical fact record. Every field is always present in
// the structure; an unstated fact carries the absent Value.
type Set struct {
	InjuryType                Value `json:"injury_type"`
	BodyLocation              Value `json:"body_location"`
	InjuryColorOrStage        Value `json:"injury_color_or_stage"`
	MechanismOfInjury         Value `json:"mechanism_of_injury"`
	TimingOfAssault           Value `json:"timing_of_assault"`
	RepeatedAssault           Value `json:"repeated_assault"`
	DrugFacilitatedIndicators Value `json:"drug_facilitated_indicators"`
	SurvivorUncertaintyNotes  Value `json:"survivor_uncertainty_notes"`
}

// AllAbsent returns the canonical empty fact set: all eight keys present,
// each value absent.
func AllAbsent() Set {
	return Set{}
}

// Decode parses a JSON object into a Set. Keys outside the eight canonical
// fields are discarded; missing keys stay absent. The only error condition
// is syntactically invalid JSON.
func Decode(data []byte) (Set, error) {
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		return AllAbsent(), fmt.Errorf("facts: decode: %w", err)
	}
	return s, nil
}
