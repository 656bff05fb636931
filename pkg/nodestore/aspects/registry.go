// Package aspects provides AspectResolver implementations: a concurrent
// in-memory registry and a catalogue loaded from YAML or JSON files.
package aspects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/tendant/nodestore/pkg/nodestore"
)

// Registry is an in-memory, concurrency-safe aspect catalogue
type Registry struct {
	mu      sync.RWMutex
	aspects map[string]*nodestore.Aspect
}

var _ nodestore.AspectResolver = (*Registry)(nil)

// NewRegistry creates a registry holding the given aspects
func NewRegistry(aspects ...*nodestore.Aspect) *Registry {
	r := &Registry{aspects: make(map[string]*nodestore.Aspect, len(aspects))}
	for _, a := range aspects {
		r.aspects[a.UUID] = cloneAspect(a)
	}
	return r
}

// GetAspect returns a copy of the aspect or AspectNotFoundError
func (r *Registry) GetAspect(ctx context.Context, uuid string) (*nodestore.Aspect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.aspects[uuid]
	if !ok {
		return nil, &nodestore.AspectNotFoundError{UUID: uuid}
	}
	return cloneAspect(a), nil
}

// Put adds or replaces an aspect
func (r *Registry) Put(a *nodestore.Aspect) error {
	if a.UUID == "" {
		return &nodestore.BadRequestError{Reason: "aspect uuid is required"}
	}
	a = cloneAspect(a)
	seen := make(map[string]bool, len(a.Properties))
	for i, p := range a.Properties {
		if p.Name == "" {
			return &nodestore.BadRequestError{Reason: fmt.Sprintf("aspect %s has a property without name", a.UUID)}
		}
		if seen[p.Name] {
			return &nodestore.BadRequestError{Reason: fmt.Sprintf("aspect %s declares %q twice", a.UUID, p.Name)}
		}
		seen[p.Name] = true
		if err := normalizeType(a.UUID, &a.Properties[i]); err != nil {
			return err
		}
		if err := p.ValidationFilters.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.aspects[a.UUID] = a
	return nil
}

// Delete removes an aspect
func (r *Registry) Delete(uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.aspects[uuid]; !ok {
		return &nodestore.AspectNotFoundError{UUID: uuid}
	}
	delete(r.aspects, uuid)
	return nil
}

// List returns every aspect ordered by UUID
func (r *Registry) List() []*nodestore.Aspect {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*nodestore.Aspect, 0, len(r.aspects))
	for _, a := range r.aspects {
		out = append(out, cloneAspect(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Replace swaps the whole catalogue
func (r *Registry) Replace(aspects []*nodestore.Aspect) {
	m := make(map[string]*nodestore.Aspect, len(aspects))
	for _, a := range aspects {
		m[a.UUID] = cloneAspect(a)
	}
	r.mu.Lock()
	r.aspects = m
	r.mu.Unlock()
}

type catalogue struct {
	Aspects []*nodestore.Aspect `json:"aspects" yaml:"aspects"`
}

// LoadFile reads a catalogue from a .yaml, .yml or .json file into a new
// registry
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading aspects file: %w", err)
	}

	var cat catalogue
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cat)
	case ".json":
		err = json.Unmarshal(data, &cat)
	default:
		return nil, fmt.Errorf("unsupported aspects file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing aspects file %s: %w", path, err)
	}

	r := NewRegistry()
	var errs []error
	for _, a := range cat.Aspects {
		if err := r.Put(a); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// normalizeType expands "array<T>" declarations and rejects unknown types.
func normalizeType(aspect string, p *nodestore.AspectProperty) error {
	t, elem, err := nodestore.ParsePropertyType(string(p.Type))
	if err != nil {
		reason := err.Error()
		if bad, ok := err.(*nodestore.BadRequestError); ok {
			reason = bad.Reason
		}
		return &nodestore.BadRequestError{Reason: fmt.Sprintf("aspect %s property %s: %s", aspect, p.Name, reason)}
	}
	if p.ArrayType != "" {
		if t != nodestore.PropertyTypeArray || elem != "" {
			return &nodestore.BadRequestError{Reason: fmt.Sprintf("aspect %s property %s: arrayType needs type array", aspect, p.Name)}
		}
		if elem, _, err = nodestore.ParsePropertyType(string(p.ArrayType)); err != nil || elem == nodestore.PropertyTypeArray {
			return &nodestore.BadRequestError{Reason: fmt.Sprintf("aspect %s property %s: unsupported array element type %q", aspect, p.Name, p.ArrayType)}
		}
	}
	p.Type, p.ArrayType = t, elem
	return nil
}

func cloneAspect(a *nodestore.Aspect) *nodestore.Aspect {
	c := *a
	c.Properties = make([]nodestore.AspectProperty, len(a.Properties))
	for i, p := range a.Properties {
		if p.ValidationList != nil {
			p.ValidationList = append([]string{}, p.ValidationList...)
		}
		p.ValidationFilters = p.ValidationFilters.Clone()
		c.Properties[i] = p
	}
	return &c
}
