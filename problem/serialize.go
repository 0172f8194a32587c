package problem

import (
	"encoding/json"
	"fmt"
)

// MarshalEvent serialises an Event to JSON.
func MarshalEvent(e *Event) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserialises an Event from JSON. problemInfo events must
// carry a snapshot.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Type == EventProblemInfo && e.Data == nil {
		return nil, fmt.Errorf("problem: %s event without data", e.Type)
	}
	return &e, nil
}
