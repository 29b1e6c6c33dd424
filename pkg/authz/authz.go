// Package authz decides whether the current actor may run an admin action on
// an entity. The REST layer consults a Strategy once per request, before any
// engine work.
package authz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/radmin/pkg/schema"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("authentication required")
)

// Action names an admin operation.
type Action string

const (
	ActionList       Action = "list"
	ActionRetrieve   Action = "retrieve"
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDestroy    Action = "destroy"
	ActionGetMany    Action = "get_many"
	ActionCreateMany Action = "create_many"
	ActionUpdateMany Action = "update_many"
	ActionDeleteMany Action = "delete_many"
	ActionExport     Action = "export_data"
	ActionImport     Action = "import_data"
	ActionDescribe   Action = "describe"
	ActionModels     Action = "models"
)

// Safe reports whether the action only reads.
func (a Action) Safe() bool {
	switch a {
	case ActionList, ActionRetrieve, ActionGetMany, ActionExport, ActionDescribe, ActionModels:
		return true
	}
	return false
}

// Actor is the authenticated caller. The zero Actor is anonymous.
type Actor struct {
	ID    string
	Roles []string
}

// Authenticated reports whether the actor has an identity.
func (a Actor) Authenticated() bool { return a.ID != "" }

// HasRole reports whether the actor holds any of roles, ignoring case.
func (a Actor) HasRole(roles ...string) bool {
	for _, want := range roles {
		if slices.ContainsFunc(a.Roles, func(r string) bool { return strings.EqualFold(r, want) }) {
			return true
		}
	}
	return false
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or the anonymous actor.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}

// Strategy allows or denies an action on an entity for the actor in ctx.
// The entity is the zero EntityRef for actions not bound to one entity.
type Strategy interface {
	Allow(ctx context.Context, action Action, entity schema.EntityRef) bool
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, action Action, entity schema.EntityRef) bool

func (f StrategyFunc) Allow(ctx context.Context, action Action, entity schema.EntityRef) bool {
	return f(ctx, action, entity)
}

// Check consults s and reports a denial as ErrUnauthenticated for anonymous
// actors and ErrForbidden otherwise.
func Check(ctx context.Context, s Strategy, action Action, entity schema.EntityRef) error {
	if s.Allow(ctx, action, entity) {
		return nil
	}
	if !ActorFrom(ctx).Authenticated() {
		return ErrUnauthenticated
	}
	if entity == (schema.EntityRef{}) {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}
	return fmt.Errorf("%w: %s on %s", ErrForbidden, action, entity)
}

// DenyAll rejects everything. It is the default strategy.
type DenyAll struct{}

func (DenyAll) Allow(context.Context, Action, schema.EntityRef) bool { return false }

// AllowAll accepts everything, anonymous callers included. Meant for
// development and tests.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, Action, schema.EntityRef) bool { return true }

// ReadOnly lets any authenticated actor read and requires one of StaffRoles
// for mutations.
type ReadOnly struct {
	StaffRoles []string
}

func (s ReadOnly) Allow(ctx context.Context, action Action, _ schema.EntityRef) bool {
	actor := ActorFrom(ctx)
	if !actor.Authenticated() {
		return false
	}
	if action.Safe() {
		return true
	}
	roles := s.StaffRoles
	if len(roles) == 0 {
		roles = []string{"staff", "admin", "superuser"}
	}
	return actor.HasRole(roles...)
}

// RoleBased maps each action to the roles allowed to run it. An action mapped
// to an empty list only needs an authenticated actor; an unmapped action is
// denied.
type RoleBased struct {
	Rules map[Action][]string
}

// DefaultRoles grants reads to every authenticated actor, writes to staff and
// admin, and deletes to superusers.
func DefaultRoles() map[Action][]string {
	writers := []string{"staff", "admin", "superuser"}
	return map[Action][]string{
		ActionList:       {},
		ActionRetrieve:   {},
		ActionGetMany:    {},
		ActionExport:     {},
		ActionDescribe:   {},
		ActionModels:     {},
		ActionCreate:     writers,
		ActionCreateMany: writers,
		ActionUpdate:     writers,
		ActionUpdateMany: writers,
		ActionImport:     writers,
		ActionDestroy:    {"superuser"},
		ActionDeleteMany: {"superuser"},
	}
}

func (s RoleBased) Allow(ctx context.Context, action Action, _ schema.EntityRef) bool {
	actor := ActorFrom(ctx)
	if !actor.Authenticated() {
		return false
	}
	roles, ok := s.Rules[action]
	if !ok {
		return false
	}
	return len(roles) == 0 || actor.HasRole(roles...)
}

// FromConfig builds a strategy by name: deny, allow, readonly or roles. For
// roles, rules override DefaultRoles per action.
func FromConfig(name string, rules map[string][]string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "deny":
		return DenyAll{}, nil
	case "allow":
		return AllowAll{}, nil
	case "readonly":
		return ReadOnly{StaffRoles: rules["staff"]}, nil
	case "roles":
		merged := DefaultRoles()
		for action, roles := range rules {
			merged[Action(action)] = roles
		}
		return RoleBased{Rules: merged}, nil
	}
	return nil, fmt.Errorf("unknown authorization strategy %q", name)
}
