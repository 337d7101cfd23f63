// Package canonhash computes stable fingerprints for record payloads.
//
// A payload is a set of named fields. Hashing serializes the fields as a
// key-sorted JSON object with every value reduced to a canonical string, then
// digests the bytes with SHA-256. Two payloads with the same fields and values
// always hash identically regardless of insertion order, so stored hashes can
// be compared across runs to decide whether a record needs reclassification.
package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Payload accumulates named fields for hashing.
type Payload struct {
	fields map[string]string
}

// New returns an empty payload.
func New() *Payload {
	return &Payload{fields: make(map[string]string)}
}

// Set records a field. Later calls with the same key overwrite earlier ones.
// Values are canonicalized immediately: nil becomes the empty string, floats
// are rendered with two decimal places, integers in base 10, times in RFC 3339
// UTC, and everything else through its default string form.
func (p *Payload) Set(key string, value any) *Payload {
	p.fields[key] = Stringify(value)
	return p
}

// Hash returns the lowercase hex SHA-256 of the canonical serialization.
func (p *Payload) Hash() string {
	keys := make([]string, 0, len(p.fields))
	for key := range p.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	ordered := make([]byte, 0, 64)
	ordered = append(ordered, '{')
	for i, key := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		name, _ := json.Marshal(key)
		value, _ := json.Marshal(p.fields[key])
		ordered = append(ordered, name...)
		ordered = append(ordered, ':')
		ordered = append(ordered, value...)
	}
	ordered = append(ordered, '}')

	sum := sha256.Sum256(ordered)
	return hex.EncodeToString(sum[:])
}

// Stringify reduces a value to its canonical string form.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case *int:
		if v == nil {
			return ""
		}
		return strconv.Itoa(*v)
	case *float64:
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', 2, 64)
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
