package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var ownerPattern = regexp.MustCompile(`^[A-Za-z ]+$`)

// ValidationError reports why a document was rejected. Field is empty when the
// document could not be decoded at all.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a decoded request document against the request schema.
func Validate(doc map[string]any) error {
	if doc == nil {
		return invalid("", "document is empty")
	}

	for _, field := range []string{"type", "requestId", "widgetId", "owner"} {
		v, ok := doc[field]
		if !ok {
			return invalid(field, "is required")
		}
		if _, ok := v.(string); !ok {
			return invalid(field, "must be a string, got %s", jsonKind(v))
		}
	}

	// Both ids end up in object keys and table primary keys.
	for _, field := range []string{"requestId", "widgetId"} {
		if strings.TrimSpace(doc[field].(string)) == "" {
			return invalid(field, "must not be empty")
		}
	}

	typ := doc["type"].(string)
	if _, ok := ParseType(typ); !ok {
		return invalid("type", "must be one of create, update, delete, got %q", typ)
	}

	owner := doc["owner"].(string)
	if !ownerPattern.MatchString(owner) {
		return invalid("owner", "must contain letters and spaces only, got %q", owner)
	}

	for _, field := range []string{"label", "description"} {
		v, ok := doc[field]
		if !ok {
			continue
		}
		if _, ok := v.(string); !ok {
			return invalid(field, "must be a string, got %s", jsonKind(v))
		}
	}

	raw, ok := doc["otherAttributes"]
	if !ok {
		return nil
	}
	attrs, ok := raw.([]any)
	if !ok {
		return invalid("otherAttributes", "must be an array, got %s", jsonKind(raw))
	}
	for i, a := range attrs {
		field := fmt.Sprintf("otherAttributes[%d]", i)
		obj, ok := a.(map[string]any)
		if !ok {
			return invalid(field, "must be an object, got %s", jsonKind(a))
		}
		for _, k := range []string{"name", "value"} {
			v, ok := obj[k]
			if !ok {
				return invalid(field+"."+k, "is required")
			}
			if _, ok := v.(string); !ok {
				return invalid(field+"."+k, "must be a string, got %s", jsonKind(v))
			}
		}
	}
	return nil
}

// Decode parses a queue entry body, validates it and returns the typed Request.
// Every rejection is reported as a *ValidationError.
func Decode(body []byte) (*Request, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("", "decode: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("", "unexpected data after document")
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("", "document must be an object, got %s", jsonKind(v))
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	r := fromDocument(doc)
	r.Raw = append(json.RawMessage(nil), body...)
	return r, nil
}

func fromDocument(doc map[string]any) *Request {
	typ, _ := ParseType(doc["type"].(string))
	r := &Request{
		Type:      typ,
		RequestID: doc["requestId"].(string),
		WidgetID:  doc["widgetId"].(string),
		Owner:     doc["owner"].(string),
	}
	if v, ok := doc["label"].(string); ok {
		r.Label = &v
	}
	if v, ok := doc["description"].(string); ok {
		r.Description = &v
	}
	if attrs, ok := doc["otherAttributes"].([]any); ok {
		r.OtherAttributes = make([]Attribute, 0, len(attrs))
		for _, a := range attrs {
			obj := a.(map[string]any)
			r.OtherAttributes = append(r.OtherAttributes, Attribute{
				Name:  obj["name"].(string),
				Value: obj["value"].(string),
			})
		}
	}
	return r
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
