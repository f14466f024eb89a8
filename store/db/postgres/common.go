package postgres

import (
	"encoding/json"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	buf, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(buf), nil
}

func unmarshalStringList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return list, nil
}

func marshalCountMap(m map[string]int64) (string, error) {
	if m == nil {
		m = map[string]int64{}
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal count map: %w", err)
	}
	return string(buf), nil
}

func unmarshalCountMap(raw string) (map[string]int64, error) {
	if raw == "" {
		return map[string]int64{}, nil
	}
	var m map[string]int64
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal count map: %w", err)
	}
	return m, nil
}

func rawOrEmpty(raw json.RawMessage, empty string) string {
	if len(raw) == 0 {
		return empty
	}
	return string(raw)
}
