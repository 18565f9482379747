package classify

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MessageType is the closed set of classifications the pipeline acts on.
type MessageType string

const (
	TypeNewListing   MessageType = "new_listing"
	TypeTaskRequest  MessageType = "task_request"
	TypeStatusUpdate MessageType = "status_update"
	TypeQuestion     MessageType = "question"
	TypeEscalation   MessageType = "escalation"
	TypeIgnore       MessageType = "ignore"
)

// ParseMessageType maps an external string to a known MessageType. Unknown
// values are an error, never silently coerced to a default.
func ParseMessageType(raw string) (MessageType, error) {
	switch MessageType(raw) {
	case TypeNewListing, TypeTaskRequest, TypeStatusUpdate, TypeQuestion, TypeEscalation, TypeIgnore:
		return MessageType(raw), nil
	default:
		return "", fmt.Errorf("unknown message type %q", raw)
	}
}

// CreatesEntity reports whether this type must produce exactly one
// domain entity downstream.
func (t MessageType) CreatesEntity() bool {
	return t == TypeNewListing || t == TypeTaskRequest
}

// FieldKind tags the concrete shape held by a FieldValue.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
	KindList
	KindMap
)

// FieldValue is a tagged variant for loosely-structured extracted fields.
// Decoding failures are explicit errors rather than runtime casts on an
// untyped interface value.
type FieldValue struct {
	Kind FieldKind
	Str  string
	Num  float64
	Bool bool
	List []FieldValue
	Map  map[string]FieldValue
}

func StringValue(s string) FieldValue  { return FieldValue{Kind: KindString, Str: s} }
func NumberValue(n float64) FieldValue { return FieldValue{Kind: KindNumber, Num: n} }
func BoolValue(b bool) FieldValue      { return FieldValue{Kind: KindBool, Bool: b} }

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindMap:
		if v.Map == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Map)
	default:
		return nil, fmt.Errorf("unknown field kind %d", v.Kind)
	}
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := fieldValueFrom(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fieldValueFrom(raw interface{}) (FieldValue, error) {
	switch t := raw.(type) {
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case []interface{}:
		list := make([]FieldValue, 0, len(t))
		for _, item := range t {
			fv, err := fieldValueFrom(item)
			if err != nil {
				return FieldValue{}, err
			}
			list = append(list, fv)
		}
		return FieldValue{Kind: KindList, List: list}, nil
	case map[string]interface{}:
		m := make(map[string]FieldValue, len(t))
		for k, item := range t {
			fv, err := fieldValueFrom(item)
			if err != nil {
				return FieldValue{}, err
			}
			m[k] = fv
		}
		return FieldValue{Kind: KindMap, Map: m}, nil
	default:
		return FieldValue{}, fmt.Errorf("unsupported field value type %T", raw)
	}
}

// Fields is the extracted-entity payload of a classification, keyed by
// field name with a schema that depends on the message type.
type Fields map[string]FieldValue

// String returns the string value for key, or "" if absent or not a string.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok || v.Kind != KindString {
		return ""
	}
	return v.Str
}

// Keys returns the field names sorted for deterministic logging.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is the classifier's structured output for one batch. Immutable
// once produced.
type Result struct {
	MessageType     MessageType `json:"message_type"`
	Confidence      float64     `json:"confidence"`
	ExtractedFields Fields      `json:"extracted_fields"`
	SourceBatchID   string      `json:"source_batch_id"`
}

// BatchContext carries metadata the classifier may use alongside the
// combined text.
type BatchContext struct {
	BatchID      string
	Source       string
	ChannelID    string
	SourceUserID string
	MessageCount int
	FirstAt      time.Time
	LastAt       time.Time
}
