package models

import "fmt"

// FieldState tags an extracted field value. The zero value is FieldUnknown so an
// unset field can never be mistaken for one the source declared empty.
type FieldState int

const (
	FieldUnknown FieldState = iota // Extraction could not determine the value
	FieldEmpty                     // The source explicitly states there is none
	FieldKnown                     // A value was extracted
)

var fieldStateNames = map[FieldState]string{
	FieldUnknown: "unknown",
	FieldEmpty:   "empty",
	FieldKnown:   "known",
}

// String implements fmt.Stringer for logging
func (s FieldState) String() string {
	if name, ok := fieldStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("FieldState(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s FieldState) MarshalText() ([]byte, error) {
	name, ok := fieldStateNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid field state %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a state name. An empty string decodes as unknown.
func (s *FieldState) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = FieldUnknown
		return nil
	}
	for state, name := range fieldStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("invalid field state %q", string(text))
}

// TextField is a single-valued extracted field.
type TextField struct {
	State FieldState `json:"state"`
	Value string     `json:"value,omitempty"`
}

// KnownText returns a known text field, or an unknown one when value is blank.
func KnownText(value string) TextField {
	if value == "" {
		return TextField{State: FieldUnknown}
	}
	return TextField{State: FieldKnown, Value: value}
}

func (f TextField) IsKnown() bool { return f.State == FieldKnown }

// String renders the value, or a bracketed state marker when there is none.
func (f TextField) String() string {
	if f.State == FieldKnown {
		return f.Value
	}
	return "<" + f.State.String() + ">"
}

// Entry is one named value of a mapping field, e.g. "Age limit" -> "18-27 years".
type Entry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MappingField is an ordered name/value field such as eligibility or fees.
type MappingField struct {
	State   FieldState `json:"state"`
	Entries []Entry    `json:"entries,omitempty"`
}

// KnownMapping returns a known mapping, or an unknown one when no entries are given.
func KnownMapping(entries ...Entry) MappingField {
	if len(entries) == 0 {
		return MappingField{State: FieldUnknown}
	}
	return MappingField{State: FieldKnown, Entries: entries}
}

// EmptyMapping marks a mapping the source declared to have no entries.
func EmptyMapping() MappingField {
	return MappingField{State: FieldEmpty}
}

func (f MappingField) IsKnown() bool { return f.State == FieldKnown }

// Get returns the value of the first entry named name.
func (f MappingField) Get(name string) (string, bool) {
	for _, e := range f.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// StepsField is an ordered list of application steps.
type StepsField struct {
	State FieldState `json:"state"`
	Steps []string   `json:"steps,omitempty"`
}

// KnownSteps returns known steps, or an unknown field when steps is empty.
func KnownSteps(steps ...string) StepsField {
	if len(steps) == 0 {
		return StepsField{State: FieldUnknown}
	}
	return StepsField{State: FieldKnown, Steps: steps}
}

func (f StepsField) IsKnown() bool { return f.State == FieldKnown }
