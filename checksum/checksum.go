// Package checksum computes the stable, order-sensitive row checksums
// the synchronizer uses to detect changed rows without a field-by-field
// diff. Grounded on the original's utils.dict_checksum: an Adler-32 of the
// row's canonical field values, concatenated in a fixed field order.
package checksum

import (
	"fmt"
	"hash/adler32"
)

// Fields is an ordered list of field values to checksum. Order matters:
// callers must always pass fields in the same order for a given entity so
// that the checksum is stable across runs (idempotence depends on it).
type Fields []interface{}

// Of returns the Adler-32 checksum of fields, stringifying each value and
// concatenating with a separator that cannot appear inside a stringified
// field (matching the original's use of a NUL-joined string).
func Of(fields Fields) uint32 {
	h := adler32.New()

	for i, f := range fields {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(stringify(f)))
	}

	return h.Sum32()
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
