package workflow

import (
	"fmt"
	"sort"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

// GuardFunc checks a requirement on the locked snapshot. A non-nil error is
// the human-readable reason the requirement is not met.
type GuardFunc func(Snapshot) error

// EffectFunc mutates the next snapshot when an edge is applied.
type EffectFunc func(*Snapshot)

// Edge is one permitted transition.
type Edge struct {
	From        Status
	To          Status
	Roles       []models.UserRole
	SelfService bool
	Guards      []GuardFunc
	Effect      EffectFunc
	// Settle is the status actually stored when the edge implies an immediate
	// follow-up in the same commit.
	Settle Status
}

// Committed returns the status persisted when the edge is applied.
func (e Edge) Committed() Status {
	if e.Settle != "" {
		return e.Settle
	}
	return e.To
}

// Check evaluates the edge guards in order.
func (e Edge) Check(s Snapshot) error {
	for _, guard := range e.Guards {
		if err := guard(s); err != nil {
			return appErrors.Clone(appErrors.ErrGuardFailed, err.Error())
		}
	}
	return nil
}

// Apply returns the snapshot that results from taking the edge.
func (e Edge) Apply(s Snapshot) Snapshot {
	next := s
	next.Status = e.To
	if e.Effect != nil {
		e.Effect(&next)
	}
	if e.Settle != "" {
		next.Status = e.Settle
	}
	next.Version = s.Version + 1
	return next
}

// Table is the static transition table of one workflow.
type Table struct {
	typ      Type
	initial  Status
	statuses []Status
	known    map[Status]struct{}
	edges    map[Status]map[Status]Edge
}

func newTable(typ Type, initial Status, statuses ...Status) *Table {
	t := &Table{
		typ:      typ,
		initial:  initial,
		statuses: statuses,
		known:    make(map[Status]struct{}, len(statuses)),
		edges:    make(map[Status]map[Status]Edge),
	}
	for _, s := range statuses {
		t.known[s] = struct{}{}
	}
	if _, ok := t.known[initial]; !ok {
		panic(fmt.Sprintf("workflow %s: unknown initial status %s", typ, initial))
	}
	return t
}

func (t *Table) permit(edge Edge) *Table {
	for _, s := range []Status{edge.From, edge.To} {
		if _, ok := t.known[s]; !ok {
			panic(fmt.Sprintf("workflow %s: unknown status %s", t.typ, s))
		}
	}
	if edge.Settle != "" {
		if _, ok := t.known[edge.Settle]; !ok {
			panic(fmt.Sprintf("workflow %s: unknown status %s", t.typ, edge.Settle))
		}
	}
	if len(edge.Roles) == 0 && !edge.SelfService {
		panic(fmt.Sprintf("workflow %s: edge %s->%s has no roles", t.typ, edge.From, edge.To))
	}
	if t.edges[edge.From] == nil {
		t.edges[edge.From] = make(map[Status]Edge)
	}
	t.edges[edge.From][edge.To] = edge
	return t
}

// Type returns the workflow the table belongs to.
func (t *Table) Type() Type { return t.typ }

// Initial returns the status new entities start in.
func (t *Table) Initial() Status { return t.initial }

// Statuses returns every declared status in declaration order.
func (t *Table) Statuses() []Status {
	return append([]Status(nil), t.statuses...)
}

// Has reports whether s is a declared status.
func (t *Table) Has(s Status) bool {
	_, ok := t.known[s]
	return ok
}

// Edge returns the edge from -> to.
func (t *Table) Edge(from, to Status) (Edge, bool) {
	edge, ok := t.edges[from][to]
	return edge, ok
}

// From lists the edges leaving s ordered by target declaration order.
func (t *Table) From(s Status) []Edge {
	out := make([]Edge, 0, len(t.edges[s]))
	for _, edge := range t.edges[s] {
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool { return t.index(out[i].To) < t.index(out[j].To) })
	return out
}

// Reachable lists the statuses one transition away from s.
func (t *Table) Reachable(s Status) []Status {
	edges := t.From(s)
	out := make([]Status, 0, len(edges))
	for _, edge := range edges {
		out = append(out, edge.To)
	}
	return out
}

// Terminal reports whether no edge leaves s.
func (t *Table) Terminal(s Status) bool {
	return len(t.edges[s]) == 0
}

// Edges lists every edge in declaration order of source then target.
func (t *Table) Edges() []Edge {
	var out []Edge
	for _, s := range t.statuses {
		out = append(out, t.From(s)...)
	}
	return out
}

func (t *Table) index(s Status) int {
	for i, candidate := range t.statuses {
		if candidate == s {
			return i
		}
	}
	return len(t.statuses)
}

// Resolve validates a requested move and returns the edge to apply. The
// returned errors are InvalidTransition, Forbidden or GuardFailed, checked in
// that order.
func (t *Table) Resolve(current Snapshot, requested Status, actor Actor) (Edge, error) {
	if !t.Has(requested) {
		return Edge{}, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("unknown %s status %q", t.typ, requested))
	}
	edge, ok := t.Edge(current.Status, requested)
	if !ok {
		return Edge{}, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move %s from %s to %s", t.typ, current.Status, requested))
	}
	if err := Authorize(actor, edge.Roles, edge.SelfService, current.OwnerID); err != nil {
		return Edge{}, err
	}
	if err := edge.Check(current); err != nil {
		return Edge{}, err
	}
	return edge, nil
}
