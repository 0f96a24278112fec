// Package trajectory loads and validates recorded event logs and resolves
// their content references against a blob manifest.
package trajectory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/traceplay/replayd/domain"
)

// Load parses and validates the event log at path and returns an immutable
// trajectory sorted by (timestamp, original index). The sort is stable, so
// events sharing a timestamp keep their file order.
func Load(path string) (domain.Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trajectory file: %w", err)
	}
	return Parse(data)
}

// Parse validates raw trajectory JSON. The input is either a JSON array of
// event records or an object wrapping one under "events" or "data".
func Parse(data []byte) (domain.Trajectory, error) {
	records, err := unwrapRecords(data)
	if err != nil {
		return nil, err
	}

	traj := make(domain.Trajectory, 0, len(records))
	for i, raw := range records {
		ev, err := parseEvent(i, raw)
		if err != nil {
			return nil, err
		}
		traj = append(traj, ev)
	}

	sort.SliceStable(traj, func(a, b int) bool {
		return traj[a].Timestamp < traj[b].Timestamp
	})
	return traj, nil
}

// unwrapRecords extracts the list of raw event records.
func unwrapRecords(data []byte) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapper struct {
		Events []json.RawMessage `json:"events"`
		Data   []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, malformed("trajectory must be a JSON array of event records")
	}
	switch {
	case wrapper.Events != nil:
		return wrapper.Events, nil
	case wrapper.Data != nil:
		return wrapper.Data, nil
	}
	return nil, malformed("trajectory object carries no events array")
}

func parseEvent(index int, raw json.RawMessage) (domain.Event, error) {
	var rec map[string]interface{}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Event{}, &ValidationError{
			Code: CodeMalformedInput, Index: index,
			Msg: "event record is not a JSON object",
		}
	}

	typ := domain.EventType(stringField(rec, "event_type"))
	if typ == "" {
		typ = domain.EventType(stringField(rec, "type"))
	}
	if typ == "" {
		return domain.Event{}, &ValidationError{
			Code: CodeMissingField, Index: index, Field: "event_type",
			Msg: "event_type is required",
		}
	}
	if !domain.ValidEventType(typ) {
		return domain.Event{}, &ValidationError{
			Code: CodeUnknownEventType, Index: index, Field: "event_type",
			Msg: fmt.Sprintf("unknown event type %q", typ),
		}
	}

	tsVal, ok := rec["timestamp"]
	if !ok {
		return domain.Event{}, &ValidationError{
			Code: CodeInvalidTimestamp, Index: index, Field: "timestamp",
			Msg: "timestamp is required",
		}
	}
	ts, ok := tsVal.(float64)
	if !ok {
		return domain.Event{}, &ValidationError{
			Code: CodeInvalidTimestamp, Index: index, Field: "timestamp",
			Msg: "timestamp must be a number",
		}
	}
	if ts < 0 {
		return domain.Event{}, &ValidationError{
			Code: CodeInvalidTimestamp, Index: index, Field: "timestamp",
			Msg: fmt.Sprintf("timestamp must not be negative, got %v", ts),
		}
	}

	ev := domain.Event{
		Type:       typ,
		Timestamp:  ts,
		Index:      index,
		FilePath:   stringField(rec, "file_path"),
		OldPath:    stringField(rec, "old_path"),
		NewPath:    stringField(rec, "new_path"),
		DirPath:    stringField(rec, "dir_path"),
		ContentRef: stringField(rec, "content_ref"),
	}
	// file_copy records historically name their endpoints source/dest.
	if ev.OldPath == "" {
		ev.OldPath = stringField(rec, "source_path")
	}
	if ev.NewPath == "" {
		ev.NewPath = stringField(rec, "dest_path")
	}

	if err := checkRequiredFields(index, &ev); err != nil {
		return domain.Event{}, err
	}

	if freeFormMeta(typ) {
		ev.Meta = json.RawMessage(raw)
	}
	return ev, nil
}

// checkRequiredFields enforces the per-type payload contract.
func checkRequiredFields(index int, ev *domain.Event) error {
	missing := func(field string) error {
		return &ValidationError{
			Code: CodeMissingField, Index: index, Field: field,
			Msg: fmt.Sprintf("%s requires %s", ev.Type, field),
		}
	}

	switch ev.Type {
	case domain.EventTypeFileRead, domain.EventTypeFileWrite,
		domain.EventTypeFileEdit, domain.EventTypeFileDelete:
		if ev.FilePath == "" {
			return missing("file_path")
		}
	case domain.EventTypeFileMove, domain.EventTypeFileRename, domain.EventTypeFileCopy:
		if ev.OldPath == "" {
			return missing("old_path")
		}
		if ev.NewPath == "" {
			return missing("new_path")
		}
	case domain.EventTypeDirCreate:
		if ev.DirPath == "" {
			return missing("dir_path")
		}
	}
	return nil
}

// freeFormMeta reports whether the type carries free-form metadata that the
// loader passes through untouched.
func freeFormMeta(t domain.EventType) bool {
	switch t {
	case domain.EventTypeFileSearch, domain.EventTypeFileBrowse,
		domain.EventTypeContextSwitch, domain.EventTypeCrossFileReference,
		domain.EventTypeErrorEncounter, domain.EventTypeErrorResponse:
		return true
	}
	return false
}

func stringField(rec map[string]interface{}, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}
