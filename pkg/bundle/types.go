package bundle

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/vango-dev/syncore/internal/errors"
)

// TypeData describes one connector implementation type.
type TypeData struct {
	// Properties lists the shared state fields of the type.
	Properties []string `json:"properties,omitempty"`

	// RPC lists the client RPC interfaces the type implements.
	RPC []string `json:"rpc,omitempty"`

	// Attributes holds free-form metadata.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Payload is the content of a bundle file.
type Payload struct {
	Types map[string]TypeData `json:"types"`
}

// DecodePayload decodes a bundle file.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.New("S403").Wrap(err)
	}
	return &p, nil
}

// TypeDataStore holds the metadata of every type whose bundle has loaded.
type TypeDataStore struct {
	types map[string]TypeData
}

// NewTypeDataStore creates an empty store.
func NewTypeDataStore() *TypeDataStore {
	return &TypeDataStore{types: make(map[string]TypeData)}
}

// Add records the types of a loaded payload.
func (s *TypeDataStore) Add(p *Payload) {
	maps.Copy(s.types, p.Types)
}

// Get returns the metadata of a type.
func (s *TypeDataStore) Get(identifier string) (TypeData, bool) {
	td, ok := s.types[identifier]
	return td, ok
}

// Identifiers returns every known type identifier, sorted.
func (s *TypeDataStore) Identifiers() []string {
	return slices.Sorted(maps.Keys(s.types))
}

// Len returns the number of known types.
func (s *TypeDataStore) Len() int {
	return len(s.types)
}
