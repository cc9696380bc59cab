package ndjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/pithecene-io/tributary/types"
)

// typeProbe is used to peek at the type field without full decode.
type typeProbe struct {
	Type types.EventType `json:"type"`
}

// Classify decodes one line into a typed event.
//
// Blank lines are keepalives: Classify returns (nil, nil) for them.
// A line that is not a JSON object returns a non-fatal *LineError.
// Records with an unrecognised type decode to *types.Unknown.
// Missing and extra fields are tolerated, and so are fields of the wrong
// JSON type. Only a line whose type cannot be read is a shape error.
func Classify(line []byte) (types.Event, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if !json.Valid(trimmed) {
		return nil, &LineError{Kind: LineErrorSyntax, Msg: "invalid JSON", Line: line}
	}
	if trimmed[0] != '{' {
		return nil, &LineError{Kind: LineErrorNotObject, Msg: "record is not a JSON object", Line: line}
	}

	var probe typeProbe
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, &LineError{Kind: LineErrorShape, Msg: "failed to read event type", Err: err, Line: line}
	}

	var ev types.Event
	switch probe.Type {
	case types.EventTypePlannerUpdate:
		ev = &types.PlannerUpdate{}
	case types.EventTypeNodeStatus:
		ev = &types.NodeStatus{}
	case types.EventTypeLLMTokens:
		ev = &types.LLMTokens{}
	case types.EventTypeDebugLog:
		ev = &types.DebugLog{}
	case types.EventTypeFinalAnswer:
		ev = &types.FinalAnswer{}
	case types.EventTypeGraphCompleted:
		ev = &types.GraphCompleted{}
	default:
		ev = &types.Unknown{}
	}

	if err := decodeLenient(trimmed, ev); err != nil {
		return nil, &LineError{Kind: LineErrorShape, Msg: "failed to decode " + string(probe.Type), Err: err, Line: line}
	}

	src := make(json.RawMessage, len(trimmed))
	copy(src, trimmed)
	ev.Header().Source = src
	return ev, nil
}

// decodeLenient decodes data into ev. Fields whose JSON type does not match
// the target are dropped and left at their zero value; the rest are kept.
func decodeLenient(data []byte, ev types.Event) error {
	err := json.Unmarshal(data, ev)
	var typeErr *json.UnmarshalTypeError
	if err == nil || !errors.As(err, &typeErr) {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	target := reflect.TypeOf(ev).Elem()
	kept := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		one, err := json.Marshal(map[string]json.RawMessage{k: v})
		if err != nil {
			continue
		}
		if json.Unmarshal(one, reflect.New(target).Interface()) == nil {
			kept[k] = v
		}
	}
	clean, err := json.Marshal(kept)
	if err != nil {
		return err
	}

	reflect.ValueOf(ev).Elem().SetZero()
	return json.Unmarshal(clean, ev)
}
