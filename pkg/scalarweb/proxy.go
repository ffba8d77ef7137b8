package scalarweb

import (
	"context"
	"encoding/json"
)

// BoundCall is a validated call ready to be sent.
type BoundCall struct {
	Endpoint Endpoint
	Spec     MethodSpec
	Params   []any
}

// Key identifies the call for caching: endpoint, method, version and the
// canonical JSON of the params (map keys sorted).
func (c BoundCall) Key() string {
	params, err := json.Marshal(c.Params)
	if err != nil {
		params = nil
	}
	return c.Endpoint.Name + "." + c.Spec.Name + "@" + c.Spec.Version + string(params)
}

func (c BoundCall) Request() Request {
	return Request{
		Method:  c.Spec.Name,
		Params:  c.Params,
		Version: c.Spec.Version,
	}
}

// Proxy dispatches (endpoint, method) pairs through the schema. It has no
// per-method code; the schema is the dispatch table.
type Proxy struct {
	schema *Schema
	caller Caller
}

func NewProxy(schema *Schema, caller Caller) *Proxy {
	return &Proxy{
		schema: schema,
		caller: caller,
	}
}

func (p *Proxy) Schema() *Schema {
	return p.schema
}

// Bind resolves and validates a call without touching the network.
func (p *Proxy) Bind(endpoint, method string, args Args) (BoundCall, error) {
	ep, spec, err := p.schema.Lookup(endpoint, method)
	if err != nil {
		return BoundCall{}, err
	}
	params, err := Bind(spec, args)
	if err != nil {
		return BoundCall{}, err
	}
	return BoundCall{
		Endpoint: Endpoint{Name: ep.Name, URL: ep.URL},
		Spec:     spec,
		Params:   params,
	}, nil
}

// Do sends exactly one request for a bound call.
func (p *Proxy) Do(ctx context.Context, call BoundCall) (*Result, error) {
	return p.caller.Call(ctx, call.Endpoint, call.Request())
}

func (p *Proxy) Invoke(ctx context.Context, endpoint, method string, args Args) (*Result, error) {
	call, err := p.Bind(endpoint, method, args)
	if err != nil {
		return nil, err
	}
	return p.Do(ctx, call)
}
