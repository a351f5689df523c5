package envelope

import (
	"encoding/json"
	"math"

	"github.com/NadimGhaznavi/hydra-router/internal/herrors"
)

// Diagnostic describes why an envelope was rejected: the exact rule
// violated, a summary of the expected schema, the observed field set and
// types, and the truncated offending body.
type Diagnostic struct {
	Rule            string
	ExpectedSchema  string
	ObservedFields  []string
	ObservedTypes   map[string]string
	TruncatedBody   string
}

const maxBodyPreview = 500

func truncate(raw []byte) string {
	s := string(raw)
	if len(s) > maxBodyPreview {
		return s[:maxBodyPreview]
	}
	return s
}

// Validate runs the seven ordered rules over a raw wire payload. On
// success it returns the decoded Envelope and a nil Diagnostic. On
// failure it returns a nil Envelope and a Diagnostic naming the first
// rule violated; it never panics or returns a Go error for a malformed
// envelope, since validation failures are routing data, not exceptions.
func Validate(payload []byte, maxBytes int) (*Envelope, *Diagnostic) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &Diagnostic{
			Rule:           "1:valid-json",
			ExpectedSchema: "a JSON object with string fields sender, elem",
			TruncatedBody:  truncate(payload),
		}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &Diagnostic{
			Rule:           "1:is-mapping",
			ExpectedSchema: "a JSON object with string fields sender, elem",
			TruncatedBody:  truncate(payload),
		}
	}

	fields := make([]string, 0, len(obj))
	types := make(map[string]string, len(obj))
	for k, v := range obj {
		fields = append(fields, k)
		types[k] = jsonTypeName(v)
	}

	if _, ok := obj["sender"]; !ok {
		return nil, &Diagnostic{
			Rule: "2:required-sender", ExpectedSchema: "sender (string), elem (string) required",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}
	if _, ok := obj["elem"]; !ok {
		return nil, &Diagnostic{
			Rule: "2:required-elem", ExpectedSchema: "sender (string), elem (string) required",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}

	senderStr, ok := obj["sender"].(string)
	if !ok || senderStr == "" {
		return nil, &Diagnostic{
			Rule: "3:sender-nonempty-string", ExpectedSchema: "sender must be a non-empty string in ValidPeerTypes",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}
	if !ValidPeerTypes[PeerType(senderStr)] {
		return nil, &Diagnostic{
			Rule: "3:sender-recognized", ExpectedSchema: "sender must be a non-empty string in ValidPeerTypes",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}

	elemStr, ok := obj["elem"].(string)
	if !ok || elemStr == "" {
		return nil, &Diagnostic{
			Rule: "4:elem-nonempty-string", ExpectedSchema: "elem must be a non-empty string",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}

	if v, present := obj["data"]; present && v != nil {
		if _, ok := v.(map[string]any); !ok {
			return nil, &Diagnostic{
				Rule: "5:data-mapping-or-null", ExpectedSchema: "data must be a mapping or absent/null",
				ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
			}
		}
	}

	if v, present := obj["timestamp"]; present {
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &Diagnostic{
				Rule: "6:timestamp-finite-number", ExpectedSchema: "timestamp must be a finite number",
				ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
			}
		}
	}
	if v, present := obj["client_id"]; present {
		if _, ok := v.(string); !ok {
			return nil, &Diagnostic{
				Rule: "6:client_id-string", ExpectedSchema: "client_id must be a string",
				ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
			}
		}
	}
	if v, present := obj["request_id"]; present {
		if _, ok := v.(string); !ok {
			return nil, &Diagnostic{
				Rule: "6:request_id-string", ExpectedSchema: "request_id must be a string",
				ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
			}
		}
	}

	if maxBytes > 0 && len(payload) > maxBytes {
		return nil, &Diagnostic{
			Rule: "7:size-limit", ExpectedSchema: "serialized size must not exceed the configured ceiling",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}

	env, err := FromJSON(payload)
	if err != nil {
		return nil, &Diagnostic{
			Rule: "1:decode", ExpectedSchema: "a JSON object matching the Envelope schema",
			ObservedFields: fields, ObservedTypes: types, TruncatedBody: truncate(payload),
		}
	}
	return env, nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// AsValidationError wraps a Diagnostic as a taxonomized herrors.Error for
// call sites that need an error value rather than a Diagnostic struct.
func AsValidationError(d *Diagnostic) *herrors.Error {
	return herrors.New(herrors.ValidationError, "validator", "rule violated: "+d.Rule).
		WithField("rule", d.Rule).
		WithField("observed_fields", d.ObservedFields).
		WithField("body", d.TruncatedBody)
}
