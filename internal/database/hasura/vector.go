package hasura

import (
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// vectorText carries a pgvector column through GraphQL, where Hasura exposes the
// type as its text form "[1,2,3]".
type vectorText []float32

func (v vectorText) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	val, err := pgvector.NewVector(v).Value()
	if err != nil {
		return nil, err
	}
	switch text := val.(type) {
	case string:
		return json.Marshal(text)
	case []byte:
		return json.Marshal(string(text))
	}
	return nil, fmt.Errorf("unexpected vector value %T", val)
}

func (v *vectorText) UnmarshalJSON(b []byte) error {
	var text *string
	if err := json.Unmarshal(b, &text); err != nil {
		return fmt.Errorf("decode vector: %w", err)
	}
	if text == nil || *text == "" {
		*v = nil
		return nil
	}
	var vec pgvector.Vector
	if err := vec.Scan([]byte(*text)); err != nil {
		return fmt.Errorf("parse vector: %w", err)
	}
	*v = vec.Slice()
	return nil
}
