package catalog

import (
	"bytes"
	"encoding/hex"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// KeyPattern is an ordered shard key definition such as {a: 1} or
// {b: "hashed"}.
type KeyPattern bson.D

// NewKeyPattern builds a key pattern with ascending fields in the given order.
func NewKeyPattern(fields ...string) KeyPattern {
	kp := make(KeyPattern, 0, len(fields))
	for _, f := range fields {
		kp = append(kp, bson.E{Key: f, Value: int32(1)})
	}
	return kp
}

// MarshalBSONValue encodes the pattern as an embedded document.
func (k KeyPattern) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if k == nil {
		return bson.MarshalValue(bson.D{})
	}
	return bson.MarshalValue(bson.D(k))
}

// UnmarshalBSONValue decodes an embedded document into the pattern.
func (k *KeyPattern) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*k = nil
		return nil
	}
	var d bson.D
	if err := (bson.RawValue{Type: t, Value: data}).Unmarshal(&d); err != nil {
		return err
	}
	*k = KeyPattern(d)
	return nil
}

// IsEmpty reports whether the pattern names no fields.
func (k KeyPattern) IsEmpty() bool {
	return len(k) == 0
}

// FieldNames returns the pattern's field names in order.
func (k KeyPattern) FieldNames() []string {
	names := make([]string, len(k))
	for i, e := range k {
		names[i] = e.Key
	}
	return names
}

// Equal compares two patterns by their BSON encoding, so {a: 1} as int and
// int32 compare equal.
func (k KeyPattern) Equal(o KeyPattern) bool {
	return documentsEqual(bson.D(k), bson.D(o))
}

// MatchesRange reports whether both bounds of r carry exactly the pattern's
// fields, in the pattern's order.
func (k KeyPattern) MatchesRange(r ChunkRange) bool {
	return k.matchesBound(r.Min) && k.matchesBound(r.Max)
}

func (k KeyPattern) matchesBound(bound bson.D) bool {
	if len(k) == 0 || len(bound) != len(k) {
		return false
	}
	for i, e := range k {
		if bound[i].Key != e.Key {
			return false
		}
	}
	return true
}

func (k KeyPattern) String() string {
	data, err := bson.MarshalExtJSON(bson.D(k), false, false)
	if err != nil {
		return "<invalid key pattern>"
	}
	return string(data)
}

// ChunkRange is a half-open [Min, Max) interval of shard key values.
type ChunkRange struct {
	Min bson.D `bson:"min"`
	Max bson.D `bson:"max"`
}

// Equal compares both bounds by their BSON encoding.
func (r ChunkRange) Equal(o ChunkRange) bool {
	return documentsEqual(r.Min, o.Min) && documentsEqual(r.Max, o.Max)
}

// GlobalMin returns the lowest bound of the key space for kp.
func GlobalMin(kp KeyPattern) bson.D {
	return boundOf(kp, primitive.MinKey{})
}

// GlobalMax returns the highest bound of the key space for kp.
func GlobalMax(kp KeyPattern) bson.D {
	return boundOf(kp, primitive.MaxKey{})
}

func boundOf(kp KeyPattern, v interface{}) bson.D {
	d := make(bson.D, 0, len(kp))
	for _, e := range kp {
		d = append(d, bson.E{Key: e.Key, Value: v})
	}
	return d
}

// boundKey encodes a bound into a stable string usable as a storage key.
func boundKey(bound bson.D) (string, error) {
	if bound == nil {
		bound = bson.D{}
	}
	data, err := bson.Marshal(bound)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

func documentsEqual(a, b bson.D) bool {
	if a == nil {
		a = bson.D{}
	}
	if b == nil {
		b = bson.D{}
	}
	ab, err := bson.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := bson.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// SameDocument reports whether a and b have identical BSON encodings.
func SameDocument(a, b interface{}) bool {
	ab, err := bson.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := bson.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
