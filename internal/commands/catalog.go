package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/EternisAI/silo-fleet/internal/approval"
)

var ErrValidation = errors.New("invalid command")

type ValidationError struct {
	Type   Type
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	if e.Field == "" {
		return fmt.Sprintf("command %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("command %s: %s: %s", e.Type, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type ParamKind int

const (
	KindString ParamKind = iota
	KindNumber
)

type Param struct {
	Name     string
	Kind     ParamKind
	Required bool
	Allowed  []string
	Positive bool
}

// Spec describes one allowlisted command type. The same table is consulted by
// the server at enqueue time and by agents before execution.
type Spec struct {
	Type  Type
	Class approval.Class
	// RequiresApplyEnabled marks types an agent refuses unless its local
	// control.apply_enabled switch is on.
	RequiresApplyEnabled bool
	Params               []Param
}

var catalog = map[Type]Spec{
	TypeSetMode: {
		Type:  TypeSetMode,
		Class: approval.ClassWeak,
		Params: []Param{
			{Name: "mode", Kind: KindString, Required: true, Allowed: []string{"NORMAL", "SAFE", "LOCKED"}},
		},
	},
	TypeSetRateLimit: {
		Type:                 TypeSetRateLimit,
		Class:                approval.ClassWeak,
		RequiresApplyEnabled: true,
		Params: []Param{
			{Name: "endpoint", Kind: KindString, Required: true},
			{Name: "limit_rps", Kind: KindNumber, Required: true, Positive: true},
		},
	},
	TypeNotifyOps: {
		Type:  TypeNotifyOps,
		Class: approval.ClassWeak,
		Params: []Param{
			{Name: "severity", Kind: KindString, Required: true, Allowed: []string{"info", "warning", "error", "critical"}},
			{Name: "message", Kind: KindString, Required: true},
		},
	},
	TypeRestartProcess: {
		Type:                 TypeRestartProcess,
		Class:                approval.ClassStrong,
		RequiresApplyEnabled: true,
		Params: []Param{
			{Name: "process", Kind: KindString, Required: true},
		},
	},
	TypeStopProcess: {
		Type:                 TypeStopProcess,
		Class:                approval.ClassStrong,
		RequiresApplyEnabled: true,
		Params: []Param{
			{Name: "process", Kind: KindString, Required: true},
		},
	},
	TypeRollback: {
		Type:                 TypeRollback,
		Class:                approval.ClassStrong,
		RequiresApplyEnabled: true,
		Params: []Param{
			{Name: "target", Kind: KindString},
		},
	},
}

func Lookup(t Type) (Spec, bool) {
	spec, ok := catalog[t]
	return spec, ok
}

func Types() []Type {
	types := make([]Type, 0, len(catalog))
	for t := range catalog {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ClassOf returns the class of a command type. Unknown types are treated as
// strong so they can never be released without approval.
func ClassOf(t Type) approval.Class {
	spec, ok := catalog[t]
	if !ok {
		return approval.ClassStrong
	}
	return spec.Class
}

func IsStrong(t Type) bool {
	return ClassOf(t) == approval.ClassStrong
}

// Validate checks a command against the allowlist. Every required param must
// be present with a value of the right kind, and params the type does not
// declare are rejected.
func Validate(t Type, payload Payload) error {
	spec, ok := catalog[t]
	if !ok {
		return &ValidationError{Type: t, Reason: "not in allowlist"}
	}

	known := make(map[string]struct{}, len(spec.Params))
	for _, p := range spec.Params {
		known[p.Name] = struct{}{}

		v, present := payload[p.Name]
		if !present || v == nil {
			if p.Required {
				return &ValidationError{Type: t, Field: p.Name, Reason: "required"}
			}
			continue
		}

		if err := checkParam(t, p, v); err != nil {
			return err
		}
	}

	for name := range payload {
		if _, ok := known[name]; !ok {
			return &ValidationError{Type: t, Field: name, Reason: "unknown parameter"}
		}
	}

	return nil
}

func checkParam(t Type, p Param, v any) error {
	switch p.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return &ValidationError{Type: t, Field: p.Name, Reason: "must be a string"}
		}
		if strings.TrimSpace(s) == "" {
			return &ValidationError{Type: t, Field: p.Name, Reason: "must not be empty"}
		}
		if len(p.Allowed) > 0 && !slices.Contains(p.Allowed, s) {
			return &ValidationError{
				Type:   t,
				Field:  p.Name,
				Reason: fmt.Sprintf("must be one of %s", strings.Join(p.Allowed, ", ")),
			}
		}
	case KindNumber:
		n, ok := toFloat(v)
		if !ok {
			return &ValidationError{Type: t, Field: p.Name, Reason: "must be a number"}
		}
		if p.Positive && n <= 0 {
			return &ValidationError{Type: t, Field: p.Name, Reason: "must be positive"}
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
