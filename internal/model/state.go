package model

import (
	"encoding/json"
	"time"
)

// StateEntry is a point-in-time snapshot that overwrites its key on each write.
// A zero TTL means the entry carries no TTL of its own.
type StateEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	TTL   time.Duration   `json:"-"`
}

func StateKey(source, name string) string {
	return "state:" + source + ":" + name
}

type stateEntryJSON struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	TTLSecs int64           `json:"ttl_secs,omitempty"`
}

func (s StateEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateEntryJSON{Key: s.Key, Value: s.Value, TTLSecs: int64(s.TTL / time.Second)})
}

func (s *StateEntry) UnmarshalJSON(b []byte) error {
	var raw stateEntryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Key = raw.Key
	s.Value = raw.Value
	s.TTL = time.Duration(raw.TTLSecs) * time.Second
	return nil
}

// NewStateEntry marshals v as the entry value.
func NewStateEntry(key string, v any, ttl time.Duration) (StateEntry, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return StateEntry{}, err
	}
	return StateEntry{Key: key, Value: b, TTL: ttl}, nil
}
