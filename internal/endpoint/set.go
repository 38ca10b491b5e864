package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// Set is the collection of endpoints of an engine, addressed by name.
type Set struct {
	byName map[string]Endpoint
	order  []Endpoint
	logger logger.ILogger
}

// NewSet creates an empty set.
func NewSet(log logger.ILogger) *Set {
	return &Set{
		byName: make(map[string]Endpoint),
		logger: log.SubLogger("Endpoints"),
	}
}

// Add registers an endpoint. Names are case-insensitive and must be unique.
func (s *Set) Add(e Endpoint) error {
	key := strings.ToLower(e.Name())
	if key == "" {
		return fmt.Errorf("endpoint without name")
	}
	if _, ok := s.byName[key]; ok {
		return fmt.Errorf("duplicate endpoint %q", e.Name())
	}
	s.byName[key] = e
	s.order = append(s.order, e)
	return nil
}

// Get returns an endpoint by name.
func (s *Set) Get(name string) (Endpoint, bool) {
	e, ok := s.byName[strings.ToLower(name)]
	return e, ok
}

// Len returns the number of endpoints.
func (s *Set) Len() int { return len(s.order) }

// Names returns the endpoint names in registration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	for i, e := range s.order {
		out[i] = e.Name()
	}
	return out
}

// DefaultName picks the default endpoint for a pipeline without one: the only
// endpoint, or the endpoint named like the pipeline.
func (s *Set) DefaultName(pipeline string) string {
	if len(s.order) == 1 {
		return s.order[0].Name()
	}
	if e, ok := s.Get(pipeline); ok {
		return e.Name()
	}
	return ""
}

// DataEndpoint resolves "endpoint" or "endpoint.dataname" to a new data endpoint.
func (s *Set) DataEndpoint(name string) (DataEndpoint, error) {
	epName, dataName, _ := strings.Cut(name, ".")
	e, ok := s.Get(epName)
	if !ok {
		return nil, fmt.Errorf("cannot find endpoint %q", epName)
	}
	return e.DataEndpoint(dataName)
}

// Open opens all endpoints in order. On failure the already opened ones are closed.
func (s *Set) Open(ctx context.Context) error {
	for i, e := range s.order {
		if err := e.Open(ctx); err != nil {
			for _, opened := range s.order[:i] {
				_ = opened.Close(ctx)
			}
			return fmt.Errorf("opening endpoint %s: %w", e.Name(), err)
		}
		s.logger.Debugf("opened endpoint: %s", e.Name())
	}
	return nil
}

// Close closes all endpoints, returning the joined errors.
func (s *Set) Close(ctx context.Context) error {
	var errs []error
	for _, e := range s.order {
		if err := e.Close(ctx); err != nil {
			s.logger.Warningf("endpoint close error: name=%s, error=%v", e.Name(), err)
			errs = append(errs, fmt.Errorf("closing endpoint %s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}
