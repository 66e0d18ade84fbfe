package subsonic

import "encoding/json"

// FlexList unmarshals a JSON field that Subsonic servers sometimes emit as
// a single object instead of a one-element array, matching the original's
// utils.force_list: callers always get a slice regardless of which shape
// the server chose.
type FlexList[T any] []T

func (l *FlexList[T]) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}

	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}

	var single T
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*l = []T{single}
	return nil
}
