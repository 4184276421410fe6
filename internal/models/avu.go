package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// AVUSeparator joins a namespace onto an attribute in the wire form sent
// to the archive, e.g. "ont:experiment_name".
const AVUSeparator = ":"

// AVU is one attribute/value/units metadata triple as stored on an
// archive collection or data object. Namespace is kept apart from
// Attribute in memory and folded into it only at the wire boundary.
type AVU struct {
	Namespace string
	Attribute string
	Value     string
	Units     string
}

// NewAVU returns an AVU without namespace or units.
func NewAVU(attribute, value string) AVU {
	return AVU{Attribute: attribute, Value: value}
}

// WithNamespace returns a copy of the AVU under the given namespace.
func (a AVU) WithNamespace(namespace string) AVU {
	a.Namespace = namespace
	return a
}

// WireAttribute returns the attribute as sent over the wire, with any
// namespace folded in.
func (a AVU) WireAttribute() string {
	if a.Namespace == "" {
		return a.Attribute
	}
	return a.Namespace + AVUSeparator + a.Attribute
}

func (a AVU) String() string {
	if a.Units == "" {
		return a.WireAttribute() + "=" + a.Value
	}
	return a.WireAttribute() + "=" + a.Value + " (" + a.Units + ")"
}

// Equals reports field-wise equality, namespace included.
func (a AVU) Equals(other AVU) bool {
	return a == other
}

// Less orders AVUs by namespace, then attribute, then value, then units.
// Empty fields sort before non-empty ones.
func (a AVU) Less(other AVU) bool {
	if a.Namespace != other.Namespace {
		return a.Namespace < other.Namespace
	}
	if a.Attribute != other.Attribute {
		return a.Attribute < other.Attribute
	}
	if a.Value != other.Value {
		return a.Value < other.Value
	}
	return a.Units < other.Units
}

// SortAVUs sorts in place using the AVU ordering.
func SortAVUs(avus []AVU) {
	sort.Slice(avus, func(i, j int) bool { return avus[i].Less(avus[j]) })
}

type avuJSON struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Units     string `json:"units,omitempty"`
}

// MarshalJSON renders the wire form: namespace folded into the attribute,
// units omitted when empty.
func (a AVU) MarshalJSON() ([]byte, error) {
	return json.Marshal(avuJSON{
		Attribute: a.WireAttribute(),
		Value:     a.Value,
		Units:     a.Units,
	})
}

// UnmarshalJSON splits any namespace back out of the wire attribute. A
// leading separator with no namespace ahead of it is discarded.
func (a *AVU) UnmarshalJSON(data []byte) error {
	var w avuJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	a.Namespace = ""
	a.Attribute = w.Attribute
	a.Value = w.Value
	a.Units = w.Units

	if ns, attr, found := strings.Cut(w.Attribute, AVUSeparator); found {
		a.Attribute = attr
		if ns != "" {
			a.Namespace = ns
		}
	}
	return nil
}
