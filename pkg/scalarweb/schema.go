package scalarweb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Access string

const (
	ACCESS_READ  Access = "read"
	ACCESS_WRITE Access = "write"
)

// Shape is how arguments go on the wire for a method.
type Shape string

const (
	SHAPE_EMPTY      Shape = "empty"
	SHAPE_POSITIONAL Shape = "positional"
	SHAPE_KEYED      Shape = "keyed"
)

const (
	PARAM_TYPE_BOOL       = "bool"
	PARAM_TYPE_INT        = "int"
	PARAM_TYPE_DOUBLE     = "double"
	PARAM_TYPE_STRING     = "string"
	PARAM_TYPE_JSON       = "JSON"
	PARAM_TYPE_JSON_ARRAY = "JSON*"
)

type Param struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Candidates []any  `json:"candidates"`
}

type MethodSpec struct {
	Name     string  `json:"name"`
	Params   []Param `json:"params"`
	Shape    Shape   `json:"shape"`
	Version  string  `json:"version"`
	Access   Access  `json:"access"`
	Degraded bool    `json:"degraded,omitempty"`
}

func (m MethodSpec) IsRead() bool {
	return m.Access == ACCESS_READ
}

type Endpoint struct {
	Name     string                `json:"name"`
	URL      string                `json:"url"`
	Degraded bool                  `json:"degraded,omitempty"`
	Methods  map[string]MethodSpec `json:"methods"`
}

// Schema is the resolved call surface of one device. It is not modified
// after resolution.
type Schema struct {
	FriendlyName string               `json:"friendly_name"`
	ModelName    string               `json:"model_name,omitempty"`
	APIVersion   string               `json:"api_version,omitempty"`
	Endpoints    map[string]*Endpoint `json:"endpoints"`
}

// Lookup finds the spec for an endpoint method. A degraded endpoint accepts
// any method name without parameter validation.
func (s *Schema) Lookup(endpoint, method string) (*Endpoint, MethodSpec, error) {
	ep, ok := s.Endpoints[endpoint]
	if !ok {
		return nil, MethodSpec{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	if spec, ok := ep.Methods[method]; ok {
		return ep, spec, nil
	}
	if ep.Degraded && method != "" {
		return ep, MethodSpec{
			Name:     method,
			Shape:    SHAPE_POSITIONAL,
			Version:  DEFAULT_API_VERSION,
			Access:   Classify(method),
			Degraded: true,
		}, nil
	}
	return nil, MethodSpec{}, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, endpoint, method)
}

// MarshalIndent renders the schema deterministically: map keys are sorted
// by encoding/json and every candidate list is already sorted or kept in
// device order during resolution.
func (s *Schema) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

var readPrefixes = []string{"get"}

var readSuffixes = []string{"Candidates"}

// Classify derives read or write access from the method name. Names that
// match no read rule are treated as mutating.
func Classify(method string) Access {
	for _, prefix := range readPrefixes {
		if strings.HasPrefix(method, prefix) && len(method) > len(prefix) {
			next := method[len(prefix)]
			if next >= 'A' && next <= 'Z' {
				return ACCESS_READ
			}
		}
	}
	for _, suffix := range readSuffixes {
		if strings.HasSuffix(method, suffix) {
			return ACCESS_READ
		}
	}
	return ACCESS_WRITE
}
