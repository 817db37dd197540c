// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/pybridge/services/bridge/toolrun"
)

const (
	// DefaultTTL is how long a positive probe stays cached.
	DefaultTTL = 30 * time.Second

	// DefaultProbeTimeout bounds a single tool's version query.
	DefaultProbeTimeout = 2 * time.Second
)

// ErrUnknownRole is returned when a role has no probe spec.
var ErrUnknownRole = errors.New("unknown capability role")

// =============================================================================
// PROBER
// =============================================================================

// Prober detects tool availability with positive-only caching.
//
// Thread Safety: Safe for concurrent use.
type Prober struct {
	runner       *toolrun.Runner
	specs        map[Role]Spec
	order        []Role
	cache        *expirable.LRU[Role, Status]
	group        singleflight.Group
	probeTimeout time.Duration
	ttl          time.Duration

	// probeHook runs inside each probe; tests use it to inject panics.
	probeHook func(Role)

	// last is the most recent full map, for cheap reads.
	last atomic.Pointer[Map]

	watchMu sync.Mutex
	watcher *PathWatcher
}

// Option configures a Prober.
type Option func(*Prober)

// WithTTL sets the positive-result cache lifetime.
func WithTTL(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.ttl = d
		}
	}
}

// WithProbeTimeout sets the per-tool probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithSpecs replaces the default probe specs.
func WithSpecs(specs ...Spec) Option {
	return func(p *Prober) {
		p.specs = make(map[Role]Spec, len(specs))
		p.order = p.order[:0]
		for _, s := range specs {
			p.specs[s.Role] = s
			p.order = append(p.order, s.Role)
		}
	}
}

// NewProber creates a Prober that launches probes through runner.
//
// Inputs:
//
//	runner - Tool runner shared with the analysis engines
//	python - Interpreter command used by the default specs
//	opts - Optional configuration
func NewProber(runner *toolrun.Runner, python string, opts ...Option) *Prober {
	if runner == nil {
		runner = toolrun.NewRunner()
	}
	p := &Prober{
		runner:       runner,
		probeTimeout: DefaultProbeTimeout,
		ttl:          DefaultTTL,
	}
	WithSpecs(DefaultSpecs(python)...)(p)
	for _, opt := range opts {
		opt(p)
	}
	p.cache = expirable.NewLRU[Role, Status](len(p.order)+1, nil, p.ttl)
	return p
}

// Tool returns the launchable tool for role.
func (p *Prober) Tool(role Role) (toolrun.Tool, bool) {
	s, ok := p.specs[role]
	return s.Tool, ok
}

// Runner returns the tool runner used for probing.
func (p *Prober) Runner() *toolrun.Runner {
	return p.runner
}

// Probe returns the capability map, served from cache where possible.
//
// Description:
//
//	Probes all roles in parallel. Roles with a live positive cache entry are
//	not re-run. Never panics; see package docs for the fallback rules.
//
// Inputs:
//
//	ctx - Context bounding the whole probe
//
// Outputs:
//
//	Map - The capability map
//
// Thread Safety: Safe for concurrent use.
func (p *Prober) Probe(ctx context.Context) Map {
	return p.probeAll(ctx, false)
}

// Refresh probes every role, bypassing the cache.
func (p *Prober) Refresh(ctx context.Context) Map {
	return p.probeAll(ctx, true)
}

// Last returns the most recent full map, probing if none exists yet.
func (p *Prober) Last(ctx context.Context) Map {
	if m := p.last.Load(); m != nil {
		return *m
	}
	return p.Probe(ctx)
}

// Current returns the last map while it is younger than the cache TTL and
// probes again otherwise. Negative roles are re-probed on that pass.
func (p *Prober) Current(ctx context.Context) Map {
	if m := p.last.Load(); m != nil && !m.Assumed && time.Since(m.ProbedAt) < p.ttl {
		return *m
	}
	return p.Probe(ctx)
}

// ProbeRole probes a single role.
//
// Description:
//
//	Returns the cached status when fresh is false and a positive entry is
//	live. Concurrent probes of the same role share one process. A negative
//	result evicts any cached entry.
//
// Errors:
//
//	ErrUnknownRole - role has no spec
func (p *Prober) ProbeRole(ctx context.Context, role Role, fresh bool) (Status, error) {
	spec, ok := p.specs[role]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	if !fresh {
		if s, ok := p.cache.Get(role); ok {
			recordProbeMetrics(ctx, role, true, s.Available)
			return s, nil
		}
	}

	v, err, _ := p.group.Do(string(role), func() (any, error) {
		return p.probeOnce(ctx, spec)
	})
	if err != nil {
		return Status{}, err
	}
	s := v.(Status)

	if s.Available {
		p.cache.Add(role, s)
	} else {
		p.cache.Remove(role)
	}
	p.observe(s)
	recordProbeMetrics(ctx, role, false, s.Available)
	return s, nil
}

// Invalidate evicts role after a real invocation showed it unusable.
func (p *Prober) Invalidate(role Role) {
	if p.cache.Remove(role) {
		slog.Info("Capability invalidated", slog.String("role", string(role)))
	}
	p.observe(Status{Role: role})
}

// observe writes one role's outcome into the last map when it differs, so
// readers of Last see tools disappear and come back between full probes.
func (p *Prober) observe(s Status) {
	for {
		cur := p.last.Load()
		if cur == nil {
			return
		}
		version := ""
		if s.Available {
			version = s.Version
			if from := p.specs[s.Role].VersionFrom; from != "" {
				version = cur.Versions[from]
			}
		}
		if cur.Available[s.Role] == s.Available && cur.Versions[s.Role] == version {
			return
		}
		updated := cloneMap(*cur)
		updated.Available[s.Role] = s.Available
		updated.Versions[s.Role] = version
		if p.last.CompareAndSwap(cur, &updated) {
			return
		}
	}
}

// Purge drops every cached entry.
func (p *Prober) Purge() {
	p.cache.Purge()
}

// probeAll probes every role and assembles a Map.
func (p *Prober) probeAll(ctx context.Context, fresh bool) (m Map) {
	ctx, span := startProbeSpan(ctx, fresh)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Capability probe panicked, assuming tools available",
				slog.Any("panic", r))
			m = p.assumed()
		}
		setProbeSpanResult(span, m)
	}()

	statuses := make([]Status, len(p.order))
	var panicked atomic.Bool

	var g errgroup.Group
	for i, role := range p.order {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panicked.Store(true)
					slog.Error("Capability probe panicked",
						slog.String("role", string(role)),
						slog.Any("panic", r))
				}
			}()
			s, err := p.ProbeRole(ctx, role, fresh)
			if err != nil {
				s = Status{Role: role, Reason: err.Error()}
			}
			statuses[i] = s
			return nil
		})
	}
	_ = g.Wait()

	if panicked.Load() || (ctx.Err() != nil && !anyAvailable(statuses)) {
		slog.Warn("Capability probe failed as a whole, assuming tools available",
			slog.Bool("panicked", panicked.Load()),
			slog.Any("ctx_err", ctx.Err()))
		return p.assumed()
	}

	m = newMap()
	m.ProbedAt = time.Now().UTC()
	byRole := make(map[Role]Status, len(statuses))
	for _, s := range statuses {
		byRole[s.Role] = s
	}
	for _, role := range p.order {
		s := byRole[role]
		spec := p.specs[role]
		m.Available[role] = s.Available
		m.Tools[role] = spec.Tool.Name
		version := s.Version
		if s.Available && spec.VersionFrom != "" {
			version = byRole[spec.VersionFrom].Version
		}
		if !s.Available {
			version = ""
		}
		m.Versions[role] = version
	}

	p.last.Store(&m)
	return m
}

// probeOnce runs the probe command for spec.
func (p *Prober) probeOnce(ctx context.Context, spec Spec) (Status, error) {
	if p.probeHook != nil {
		p.probeHook(spec.Role)
	}

	status := Status{Role: spec.Role, Tool: spec.Tool.Name}
	res, err := p.runner.Run(ctx, spec.Tool, spec.ProbeArgs, toolrun.WithRunTimeout(p.probeTimeout))
	if res != nil {
		status.Command = res.Command
		status.Duration = res.Duration
	}
	switch {
	case err != nil:
		status.Reason = err.Error()
	case !spec.accepts(res.ExitCode):
		status.Reason = fmt.Sprintf("exit status %d", res.ExitCode)
	default:
		status.Available = true
		if spec.VersionFrom == "" {
			status.Version = toolrun.FirstLine(string(res.Stdout))
			if status.Version == "" {
				status.Version = toolrun.FirstLine(res.Stderr)
			}
		}
	}

	if !status.Available {
		slog.Debug("Tool unavailable",
			slog.String("role", string(spec.Role)),
			slog.String("tool", spec.Tool.Name),
			slog.String("reason", status.Reason))
	}
	return status, nil
}

// assumed builds the fallback map used when probing fails wholesale.
func (p *Prober) assumed() Map {
	m := newMap()
	m.ProbedAt = time.Now().UTC()
	m.Assumed = true
	for _, role := range p.order {
		m.Available[role] = true
		m.Versions[role] = ""
		m.Tools[role] = p.specs[role].Tool.Name
	}
	return m
}

func anyAvailable(statuses []Status) bool {
	for _, s := range statuses {
		if s.Available {
			return true
		}
	}
	return false
}

func cloneMap(m Map) Map {
	c := newMap()
	c.ProbedAt = m.ProbedAt
	c.Assumed = m.Assumed
	for k, v := range m.Available {
		c.Available[k] = v
	}
	for k, v := range m.Versions {
		c.Versions[k] = v
	}
	for k, v := range m.Tools {
		c.Tools[k] = v
	}
	return c
}
