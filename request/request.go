package request

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the operation a Request asks for.
type Type int

const (
	TypeUnknown Type = iota
	TypeCreate
	TypeUpdate
	TypeDelete
)

// ParseType matches the wire value exactly; "recreate" or "Create" are not accepted.
func ParseType(s string) (Type, bool) {
	switch s {
	case "create":
		return TypeCreate, true
	case "update":
		return TypeUpdate, true
	case "delete":
		return TypeDelete, true
	default:
		return TypeUnknown, false
	}
}

func (t Type) String() string {
	switch t {
	case TypeCreate:
		return "create"
	case TypeUpdate:
		return "update"
	case TypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

func (t Type) MarshalJSON() ([]byte, error) {
	if t == TypeUnknown {
		return nil, fmt.Errorf("marshal request type: unknown")
	}
	return json.Marshal(t.String())
}

func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := ParseType(s)
	if !ok {
		return fmt.Errorf("unknown request type %q", s)
	}
	*t = v
	return nil
}

// Attribute is one free-form name/value pair carried by a Request.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is a single widget change instruction.
//
// Label and Description are pointers so that an explicitly empty string is
// distinguishable from an absent field.
type Request struct {
	Type            Type        `json:"type"`
	RequestID       string      `json:"requestId"`
	WidgetID        string      `json:"widgetId"`
	Owner           string      `json:"owner"`
	Label           *string     `json:"label,omitempty"`
	Description     *string     `json:"description,omitempty"`
	OtherAttributes []Attribute `json:"otherAttributes,omitempty"`

	// Raw is the body the request was decoded from. Nil for requests built
	// in code or produced by Merge.
	Raw json.RawMessage `json:"-"`
}

// NormalizeOwner lower-cases the owner and replaces spaces with hyphens.
func NormalizeOwner(owner string) string {
	return strings.ReplaceAll(strings.ToLower(owner), " ", "-")
}

// MirrorKey is the object key a widget is stored under, relative to any sink prefix.
func (r *Request) MirrorKey() string {
	return "widgets/" + NormalizeOwner(r.Owner) + "/" + r.WidgetID
}
