package scalarweb

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"go.uber.org/zap"
)

// DEFAULT_ENDPOINTS is used when the guide cannot list the device services.
var DEFAULT_ENDPOINTS = []string{"guide", "system", "camera", "avContent"}

// Resolver builds a Schema from a device description and the device's own
// introspection methods. Every call goes through the given Caller, one at a
// time.
type Resolver struct {
	caller    Caller
	http      *http.Client
	fastSetup bool
	logger    *zap.Logger
}

func NewResolver(caller Caller, httpClient *http.Client, fastSetup bool, logger *zap.Logger) *Resolver {
	return &Resolver{
		caller:    caller,
		http:      httpClient,
		fastSetup: fastSetup,
		logger:    logger.With(zap.String("component", "resolver")),
	}
}

func (r *Resolver) Resolve(ctx context.Context, location string) (*Schema, *Description, error) {
	desc, err := FetchDescription(ctx, r.http, location)
	if err != nil {
		return nil, nil, err
	}
	schema, err := r.ResolveDescription(ctx, desc)
	if err != nil {
		return nil, desc, err
	}
	return schema, desc, nil
}

func (r *Resolver) ResolveDescription(ctx context.Context, desc *Description) (*Schema, error) {
	if len(desc.Services) == 0 {
		return nil, ErrNoServices
	}

	schema := &Schema{
		FriendlyName: desc.FriendlyName,
		ModelName:    desc.ModelName,
		APIVersion:   desc.APIVersion,
		Endpoints:    map[string]*Endpoint{},
	}

	for _, ep := range r.endpoints(ctx, desc) {
		methods, err := r.introspect(ctx, ep)
		if err != nil {
			r.logger.Warn("resolver: endpoint degraded", zap.Error(&SchemaResolutionError{Endpoint: ep.Name, Err: err}))
			ep.Degraded = true
			ep.Methods = map[string]MethodSpec{}
		} else {
			ep.Methods = methods
		}
		schema.Endpoints[ep.Name] = ep
	}
	return schema, nil
}

// endpoints asks the guide which services exist. Services the description
// does not list are placed on the most common action list URL.
func (r *Resolver) endpoints(ctx context.Context, desc *Description) []*Endpoint {
	commonURL := desc.mostCommonURL()
	endpointFor := func(name string) *Endpoint {
		base, ok := desc.serviceURL(name)
		if !ok {
			base = commonURL
		}
		return &Endpoint{Name: name, URL: EndpointURL(base, name)}
	}

	names, err := r.serviceProtocols(ctx, endpointFor("guide"))
	if err != nil {
		r.logger.Info("resolver: getServiceProtocols failed, using default endpoints", zap.Error(err))
		names = DEFAULT_ENDPOINTS
	}

	var eps []*Endpoint
	for _, name := range names {
		eps = append(eps, endpointFor(name))
	}
	return eps
}

func (r *Resolver) serviceProtocols(ctx context.Context, guide *Endpoint) ([]string, error) {
	res, err := r.caller.Call(ctx, *guide, Request{Method: "getServiceProtocols", Params: []any{}, Version: DEFAULT_API_VERSION})
	if err != nil {
		return nil, err
	}
	rows, err := res.Rows()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		var name string
		if err := json.Unmarshal(row[0], &name); err != nil || name == "" {
			continue
		}
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNoServices
	}
	return names, nil
}

func (r *Resolver) introspect(ctx context.Context, ep *Endpoint) (map[string]MethodSpec, error) {
	res, err := r.caller.Call(ctx, *ep, Request{Method: "getMethodTypes", Params: []any{""}, Version: DEFAULT_API_VERSION})
	if err != nil {
		return nil, err
	}
	types, err := parseMethodTypes(res)
	if err != nil {
		return nil, err
	}

	// later rows override earlier ones with the same name
	byName := map[string]methodType{}
	for _, mt := range types {
		byName[mt.Name] = mt
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	slices.Sort(names)

	methods := make(map[string]MethodSpec, len(names))
	for _, name := range names {
		mt := byName[name]
		var opts []json.RawMessage
		if !r.fastSetup {
			opts = r.candidates(ctx, ep, name, byName)
		}
		methods[name] = buildMethodSpec(mt, opts)
	}
	return methods, nil
}

// candidates calls getSupportedX for a setX method when the endpoint has it.
func (r *Resolver) candidates(ctx context.Context, ep *Endpoint, method string, methods map[string]methodType) []json.RawMessage {
	supported, ok := supportedMethod(method)
	if !ok {
		return nil
	}
	mt, ok := methods[supported]
	if !ok {
		return nil
	}
	res, err := r.caller.Call(ctx, *ep, Request{Method: supported, Params: []any{}, Version: mt.Version})
	if err != nil {
		r.logger.Debug("resolver: no candidates", zap.String("endpoint", ep.Name), zap.String("method", supported), zap.Error(err))
		return nil
	}
	if len(res.Result) > 0 {
		return res.Result
	}
	return res.Results
}
