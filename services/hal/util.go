// services/hal/util.go
package hal

import (
	"encoding/json"
	"strconv"

	"pca9685-go/errcode"
)

// DecodeJSON decodes bytes, strings, maps or structs into dst by way of JSON.
func DecodeJSON[T any](src any, dst *T) error {
	var err error
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		err = json.Unmarshal(v, dst)
	case string:
		err = json.Unmarshal([]byte(v), dst)
	default:
		var b []byte
		if b, err = json.Marshal(v); err == nil {
			err = json.Unmarshal(b, dst)
		}
	}
	return errcode.Wrap(errcode.InvalidPayload, "decode", err)
}

func asInt(t any) (int, bool) {
	switch v := t.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}
