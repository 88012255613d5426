package datasource

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"ingestd/internal/apperr"
	"ingestd/internal/model"
)

// Result is what one capability call produced.
type Result struct {
	Metrics []model.Metric
	State   []model.StateEntry
}

type Handler func(ctx context.Context, params json.RawMessage) (Result, error)

type Capability struct {
	Method      string
	Description string
	Params      []string
	Handler     Handler
}

// Source is a pluggable data source exposing named methods.
type Source interface {
	Name() string
	Capabilities() []Capability
}

// Registry resolves source -> method -> handler for job execution.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]map[string]Capability
}

func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: map[string]map[string]Capability{}}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces every capability of s.
func (r *Registry) Register(s Source) {
	methods := map[string]Capability{}
	for _, c := range s.Capabilities() {
		methods[c.Method] = c
	}
	r.mu.Lock()
	r.sources[s.Name()] = methods
	r.mu.Unlock()
}

func (r *Registry) Resolve(source, method string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods, ok := r.sources[source]
	if !ok {
		return nil, apperr.Validation("unknown datasource %q", source)
	}
	c, ok := methods[method]
	if !ok {
		return nil, apperr.Validation("datasource %q has no method %q", source, method)
	}
	return c.Handler, nil
}

// ValidateJob runs the job's own checks and confirms the source/method pair resolves.
func (r *Registry) ValidateJob(job model.IngestionJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	_, err := r.Resolve(job.DataSource, job.Method)
	return err
}

type MethodInfo struct {
	Method      string   `json:"method"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

type SourceInfo struct {
	Name    string       `json:"name"`
	Methods []MethodInfo `json:"methods"`
}

func (r *Registry) Describe() []SourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceInfo, 0, len(r.sources))
	for name, methods := range r.sources {
		info := SourceInfo{Name: name}
		for _, c := range methods {
			info.Methods = append(info.Methods, MethodInfo{Method: c.Method, Description: c.Description, Params: c.Params})
		}
		sort.Slice(info.Methods, func(i, j int) bool { return info.Methods[i].Method < info.Methods[j].Method })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return apperr.Validation("invalid params: %v", err)
	}
	return nil
}
