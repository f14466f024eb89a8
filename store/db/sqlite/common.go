package sqlite

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// marshalStringList serializes a string slice to its JSON column form.
// A nil slice serializes to "[]" so the column is never NULL.
func marshalStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	buf, err := json.Marshal(list)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal string list")
	}
	return string(buf), nil
}

func unmarshalStringList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal string list")
	}
	return list, nil
}

func marshalCountMap(m map[string]int64) (string, error) {
	if m == nil {
		m = map[string]int64{}
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal count map")
	}
	return string(buf), nil
}

func unmarshalCountMap(raw string) (map[string]int64, error) {
	if raw == "" {
		return map[string]int64{}, nil
	}
	var m map[string]int64
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal count map")
	}
	return m, nil
}

// rawOrEmpty clamps a raw JSON column to a non-nil value.
func rawOrEmpty(raw json.RawMessage, empty string) string {
	if len(raw) == 0 {
		return empty
	}
	return string(raw)
}
