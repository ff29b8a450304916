package pipeline

import (
	"context"
	"fmt"
)

// guard is a resource held by a run, with the action that releases it.
type guard struct {
	name    string
	release func(context.Context) error
}

// guardStack releases resources in the reverse order of acquisition.
type guardStack struct {
	guards []guard
}

func (s *guardStack) push(name string, release func(context.Context) error) {
	s.guards = append(s.guards, guard{name: name, release: release})
}

func (s *guardStack) held() []string {
	names := make([]string, len(s.guards))
	for i, g := range s.guards {
		names[i] = g.name
	}
	return names
}

// unwind releases every held resource, newest first, even when an earlier
// release fails. onError is called for each failure.
func (s *guardStack) unwind(ctx context.Context, onError func(name string, err error)) []error {
	var errs []error
	for len(s.guards) > 0 {
		g := s.guards[len(s.guards)-1]
		s.guards = s.guards[:len(s.guards)-1]
		if err := g.release(ctx); err != nil {
			err = fmt.Errorf("release %s: %w", g.name, err)
			if onError != nil {
				onError(g.name, err)
			}
			errs = append(errs, err)
		}
	}
	return errs
}
