package marshaller

import (
	"encoding/json"
	"fmt"
)

// Marshaller abstracts a serialization scheme.
type Marshaller interface {
	Marshal(obj interface{}) ([]byte, error)
	Unmarshal(data []byte, obj interface{}) error
}

// JSONMarshaller uses JSON encoding for marshaling.
type JSONMarshaller struct{}

// NewJSONMarshaller initializes and returns a new JSONMarshaller.
func NewJSONMarshaller() *JSONMarshaller {
	return &JSONMarshaller{}
}

// Marshal converts the given object into a JSON-encoded byte slice. Map keys
// are emitted in sorted order and struct fields in declaration order, so the
// output for a given type is deterministic.
func (JSONMarshaller) Marshal(obj interface{}) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

// Unmarshal decodes JSON data into the given object.
func (JSONMarshaller) Unmarshal(data []byte, obj interface{}) error {
	if err := json.Unmarshal(data, obj); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

// compile-time check that JSONMarshaller implements Marshaller
var _ Marshaller = JSONMarshaller{}
