// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package expr compiles and evaluates policy conditions: a CEL
// expression over request.principal (alias P), request.resource (alias
// R), and request.context. Compiled programs are cached by expression
// string behind a bounded LRU that evicts the least recently used
// program, one at a time, on overflow.
package expr

import (
	"container/list"
	"net"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/quorumdag/core/internal/errs"
)

// ProgramCacheCapacity bounds how many compiled programs are kept.
const ProgramCacheCapacity = 1_000

// Evaluator compiles and runs policy conditions. Safe for concurrent use.
type Evaluator struct {
	env *cel.Env

	mu       sync.Mutex
	order    *list.List // front = most recently used
	elements map[string]*list.Element
	programs map[string]cel.Program
}

type cacheEntry struct {
	expression string
}

// New constructs an Evaluator with the standard string extensions
// (startsWith/endsWith/contains), CEL's built-in timestamp/duration/size
// functions and regex matches macro, plus the inIPAddrRange and now
// custom functions the condition language adds.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.DynType),
		cel.Variable("P", cel.DynType),
		cel.Variable("R", cel.DynType),
		ext.Strings(),
		cel.Function("inIPAddrRange",
			cel.Overload("inIPAddrRange_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(inIPAddrRange))),
		cel.Function("now",
			cel.Overload("now_timestamp", []*cel.Type{}, cel.TimestampType,
				cel.FunctionBinding(nowFn))),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "expr: construct CEL environment", err)
	}
	return &Evaluator{
		env:      env,
		order:    list.New(),
		elements: make(map[string]*list.Element),
		programs: make(map[string]cel.Program),
	}, nil
}

func inIPAddrRange(lhs, rhs ref.Val) ref.Val {
	ipStr, ok := lhs.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	cidrStr, ok := rhs.Value().(string)
	if !ok {
		return types.Bool(false)
	}
	ip := net.ParseIP(ipStr)
	_, network, err := net.ParseCIDR(cidrStr)
	if ip == nil || err != nil {
		return types.Bool(false)
	}
	return types.Bool(network.Contains(ip))
}

func nowFn(_ ...ref.Val) ref.Val {
	return types.Timestamp{Time: time.Now().UTC()}
}

// Vars is the variable binding passed to Evaluate: principal, resource,
// and context mirror AuthzRequest's shape, each as a plain map so CEL's
// dynamic typing can index into them with field-select syntax.
type Vars struct {
	Principal map[string]interface{}
	Resource  map[string]interface{}
	Context   map[string]interface{}
}

func (v Vars) bindings() map[string]interface{} {
	request := map[string]interface{}{
		"principal": v.Principal,
		"resource":  v.Resource,
		"context":   v.Context,
	}
	return map[string]interface{}{
		"request": request,
		"P":       v.Principal,
		"R":       v.Resource,
	}
}

// Evaluate compiles (or reuses a cached compilation of) expression and
// runs it against vars. Evaluation is pure: a compile failure or a
// runtime evaluation error both resolve to false rather than propagating
// an error, per the condition language's contract that a throwing
// condition skips its policy instead of failing the whole match.
func (e *Evaluator) Evaluate(expression string, vars Vars) bool {
	prg, err := e.program(expression)
	if err != nil {
		return false
	}
	out, _, err := prg.Eval(vars.bindings())
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	e.mu.Lock()
	if el, ok := e.elements[expression]; ok {
		e.order.MoveToFront(el)
		prg := e.programs[expression]
		e.mu.Unlock()
		return prg, nil
	}
	e.mu.Unlock()

	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, errs.Wrap(errs.InvalidInput, "expr: compile "+expression, iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "expr: build program for "+expression, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.elements[expression]; ok {
		e.order.MoveToFront(el)
		return e.programs[expression], nil
	}
	el := e.order.PushFront(cacheEntry{expression: expression})
	e.elements[expression] = el
	e.programs[expression] = prg
	if e.order.Len() > ProgramCacheCapacity {
		oldest := e.order.Back()
		e.order.Remove(oldest)
		key := oldest.Value.(cacheEntry).expression
		delete(e.elements, key)
		delete(e.programs, key)
	}
	return prg, nil
}

// Len reports how many compiled programs are currently cached.
func (e *Evaluator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Len()
}
