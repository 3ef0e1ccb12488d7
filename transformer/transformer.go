package transformer

import (
	"context"
	"errors"
	"fmt"

	"github.com/baldanca/widget-consumer/request"
)

// Transformer converts a validated request into a sink-specific value.
type Transformer[O any] interface {
	Transform(ctx context.Context, in *request.Request) (O, error)
}

// ErrAttributeCollision is returned under PolicyReject when an attribute name
// matches a fixed record field.
var ErrAttributeCollision = errors.New("attribute collides with a fixed field")

// CollisionPolicy decides what happens when a hoisted attribute shares its
// name with a fixed record field.
type CollisionPolicy string

const (
	PolicyReject        CollisionPolicy = "reject"
	PolicyPrefix        CollisionPolicy = "prefix"
	PolicyLastWriteWins CollisionPolicy = "last-write-wins"
)

// CollisionPrefix is prepended to colliding attribute names under PolicyPrefix.
const CollisionPrefix = "attr_"

func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(s); p {
	case PolicyReject, PolicyPrefix, PolicyLastWriteWins:
		return p, nil
	case "":
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q", s)
	}
}

// Field names of a table record.
const (
	FieldID          = "id"
	FieldOwner       = "owner"
	FieldLabel       = "label"
	FieldDescription = "description"
	FieldType        = "type"
	FieldRequestID   = "requestId"
)

// Names that must never appear as hoisted fields. widgetId and otherAttributes
// are dropped from the record, so hoisting them would bring them back.
var reserved = map[string]bool{
	FieldID:           true,
	FieldOwner:        true,
	FieldLabel:        true,
	FieldDescription:  true,
	FieldType:         true,
	FieldRequestID:    true,
	"widgetId":        true,
	"otherAttributes": true,
}

// IsReserved reports whether name is a fixed record field.
func IsReserved(name string) bool { return reserved[name] }

// Record is the flat table representation of a widget.
type Record map[string]string

// ID is the primary key.
func (r Record) ID() string { return r[FieldID] }

// Table builds table records: widgetId becomes id, each attribute becomes a
// top-level field and otherAttributes is dropped.
type Table struct {
	Policy CollisionPolicy
}

func (t Table) Transform(ctx context.Context, in *request.Request) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return TableRecord(in, t.Policy)
}

// TableRecord is Table.Transform without a context.
func TableRecord(in *request.Request, policy CollisionPolicy) (Record, error) {
	if in == nil {
		return nil, errors.New("nil request")
	}
	if policy == "" {
		policy = PolicyReject
	}

	rec := make(Record, 6+len(in.OtherAttributes))
	rec[FieldID] = in.WidgetID
	rec[FieldOwner] = in.Owner
	rec[FieldType] = in.Type.String()
	rec[FieldRequestID] = in.RequestID
	if in.Label != nil {
		rec[FieldLabel] = *in.Label
	}
	if in.Description != nil {
		rec[FieldDescription] = *in.Description
	}

	// Later pairs overwrite earlier pairs with the same name.
	for _, a := range in.OtherAttributes {
		name := a.Name
		if reserved[name] {
			switch policy {
			case PolicyReject:
				return nil, fmt.Errorf("widget %s: attribute %q: %w", in.WidgetID, name, ErrAttributeCollision)
			case PolicyPrefix:
				name = CollisionPrefix + name
			case PolicyLastWriteWins:
				// The primary key always stays the widget id.
				if name == FieldID || name == "widgetId" || name == "otherAttributes" {
					continue
				}
			default:
				return nil, fmt.Errorf("unknown collision policy %q", policy)
			}
		}
		rec[name] = a.Value
	}
	return rec, nil
}
