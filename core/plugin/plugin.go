// Package plugin runs registered steps at fixed points of the mutation
// pipeline.
//
// A Store is built once at startup: construct it, Register every step,
// Freeze it, then serve requests. Steps matching a request run one after
// another in registration order and share one Context, so later steps see
// what earlier ones changed.
package plugin

import (
	"context"
	"fmt"

	"github.com/artpar/entitysdk/core/changes"
	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/expr-lang/expr/vm"
)

// Stage is a point in the mutation pipeline.
type Stage string

const (
	// StagePreValidation runs before the engine's own checks on the data.
	StagePreValidation Stage = "preValidation"

	// StagePreOperation runs inside the session before the storage write.
	StagePreOperation Stage = "preOperation"

	// StagePostOperation runs inside the session after the storage write.
	StagePostOperation Stage = "postOperation"
)

// Message is the kind of mutation.
type Message string

const (
	MessageCreate Message = "create"
	MessageUpdate Message = "update"
	MessageDelete Message = "delete"
)

// ParseStage converts a declared stage name.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(s); st {
	case StagePreValidation, StagePreOperation, StagePostOperation:
		return st, nil
	default:
		return "", fmt.Errorf("unknown plugin stage %q", s)
	}
}

// ParseMessage converts a declared message name.
func ParseMessage(s string) (Message, error) {
	switch m := Message(s); m {
	case MessageCreate, MessageUpdate, MessageDelete:
		return m, nil
	default:
		return "", fmt.Errorf("unknown plugin message %q", s)
	}
}

// Context is passed to every step of a stage.
type Context struct {
	Entity  string
	Message Message
	Stage   Stage

	// ID is the record id; empty on create before the write.
	ID string

	// Data is the request data. Pre-stage steps may modify it.
	Data storage.Record

	// Snapshot is the record before the mutation, nil on create.
	Snapshot storage.Record

	ChangedValues changes.Values
	Schema        schema.Schema

	// Backend and Session give steps access to storage inside the
	// request's session.
	Backend storage.Backend
	Session storage.Session

	Caller datafilter.Caller

	// Meta carries values between steps and back to the caller.
	Meta map[string]any
}

// Action is the work a step performs.
type Action func(ctx context.Context, pc *Context) error

// Step is a registered plugin hook.
type Step struct {
	// Name identifies the step in logs and metrics.
	Name string

	// Entity restricts the step to one entity; empty matches all.
	Entity string

	Message Message
	Stage   Stage

	// Attributes limits create and update steps to requests that change at
	// least one of these attributes. Delete steps ignore it.
	Attributes []string

	// When is an optional boolean expression over data, snapshot, changed,
	// entity, message and id.
	When string

	Action Action

	program *vm.Program
}

func (s *Step) matches(pc *Context) bool {
	if s.Entity != "" && s.Entity != pc.Entity {
		return false
	}
	return s.Message == pc.Message && s.Stage == pc.Stage
}

// gated reports whether attribute scoping skips the step.
func (s *Step) gated(pc *Context) bool {
	if pc.Message == MessageDelete || len(s.Attributes) == 0 {
		return false
	}
	return !pc.ChangedValues.Has(s.Attributes...)
}
