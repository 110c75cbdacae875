package types

import (
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// EnforcementAction controls what a constraint does when violated.
type EnforcementAction string

const (
	// EnforcementDeny rejects the admission request on violation.
	EnforcementDeny EnforcementAction = "deny"
	// EnforcementWarn allows the request but attaches warnings.
	EnforcementWarn EnforcementAction = "warn"
	// EnforcementDryRun records violations without affecting the decision.
	EnforcementDryRun EnforcementAction = "dryrun"
)

// ParseEnforcementAction normalizes an enforcement action string.
// Empty defaults to deny, matching the convention policy authors expect.
func ParseEnforcementAction(s string) (EnforcementAction, error) {
	switch strings.ToLower(s) {
	case "", "deny":
		return EnforcementDeny, nil
	case "warn":
		return EnforcementWarn, nil
	case "dryrun":
		return EnforcementDryRun, nil
	default:
		return "", fmt.Errorf("unknown enforcement action %q", s)
	}
}

// ParamType is the declared type of a template parameter.
type ParamType string

const (
	ParamString     ParamType = "string"
	ParamInt        ParamType = "int"
	ParamBool       ParamType = "bool"
	ParamStringList ParamType = "stringList"
)

// ParameterSpec declares one parameter a template accepts.
type ParameterSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required,omitempty"`
}

// TemplateTarget names the evaluation logic a template runs. Check refers to
// a logic implementation registered with the evaluator; Source is an opaque
// policy body passed through to external evaluation engines.
type TemplateTarget struct {
	Check  string `json:"check"`
	Source string `json:"source,omitempty"`
}

// Template is a reusable policy definition: a parameter schema plus a
// reference to evaluation logic. Constraints instantiate it with concrete
// parameters and a match predicate. The Kind field is the constraint kind
// this template declares; constraints of that kind bind to this template.
type Template struct {
	Name       string          `json:"name"`
	Kind       string          `json:"kind"`
	Parameters []ParameterSpec `json:"parameters,omitempty"`
	Targets    []TemplateTarget `json:"targets"`
}

// Validate checks structural well-formedness of the template itself.
func (t Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if t.Kind == "" {
		return fmt.Errorf("template %s: missing crd kind", t.Name)
	}
	if len(t.Targets) == 0 {
		return fmt.Errorf("template %s: no targets", t.Name)
	}
	for i, tgt := range t.Targets {
		if tgt.Check == "" {
			return fmt.Errorf("template %s: target %d has no check", t.Name, i)
		}
	}
	for _, p := range t.Parameters {
		switch p.Type {
		case ParamString, ParamInt, ParamBool, ParamStringList:
		default:
			return fmt.Errorf("template %s: parameter %s has unknown type %q", t.Name, p.Name, p.Type)
		}
	}
	return nil
}

// KindTarget identifies the (apiGroups, kinds) pairs a constraint applies
// to. An empty APIGroups list or "*" matches any group; "" names the core
// group. An empty Kinds list inside a target matches nothing, but an empty
// target list on the match spec matches everything.
type KindTarget struct {
	APIGroups []string `json:"apiGroups,omitempty"`
	Kinds     []string `json:"kinds,omitempty"`
}

// MatchSpec is a constraint's scope predicate.
type MatchSpec struct {
	Kinds         []KindTarget          `json:"kinds,omitempty"`
	Namespaces    []string              `json:"namespaces,omitempty"`
	LabelSelector *metav1.LabelSelector `json:"labelSelector,omitempty"`
}

// Constraint binds a template to a match predicate and parameter values.
type Constraint struct {
	Name              string                 `json:"name"`
	Kind              string                 `json:"kind"`
	TemplateName      string                 `json:"templateName"`
	EnforcementAction EnforcementAction      `json:"enforcementAction"`
	Match             MatchSpec              `json:"match"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`

	// Inert marks a constraint whose parameter binding or template reference
	// is broken. Inert constraints are never evaluated and never counted as
	// passing; the reason is surfaced through the API.
	Inert       bool   `json:"inert,omitempty"`
	InertReason string `json:"inertReason,omitempty"`
}

// ResourceRef identifies the resource a violation applies to.
type ResourceRef struct {
	APIGroup  string `json:"apiGroup,omitempty"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
}

func (r ResourceRef) String() string {
	if r.Namespace == "" {
		return fmt.Sprintf("%s/%s", r.Kind, r.Name)
	}
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}

// RefFromObject builds a ResourceRef from an unstructured object.
func RefFromObject(obj *unstructured.Unstructured) ResourceRef {
	gvk := obj.GroupVersionKind()
	return ResourceRef{
		APIGroup:  gvk.Group,
		Kind:      gvk.Kind,
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}
}

// ResourceAttributes is the descriptor the match engine works on.
type ResourceAttributes struct {
	APIGroup  string
	Kind      string
	Namespace string
	Labels    map[string]string
}

// AttributesFromObject extracts match attributes from an unstructured object.
func AttributesFromObject(obj *unstructured.Unstructured) ResourceAttributes {
	gvk := obj.GroupVersionKind()
	return ResourceAttributes{
		APIGroup:  gvk.Group,
		Kind:      gvk.Kind,
		Namespace: obj.GetNamespace(),
		Labels:    obj.GetLabels(),
	}
}

// Violation is one policy failure produced by evaluating a constraint
// against a resource. It is output, not persisted state.
type Violation struct {
	Constraint        string            `json:"constraint"`
	Resource          ResourceRef       `json:"resource"`
	Message           string            `json:"message"`
	EnforcementAction EnforcementAction `json:"enforcementAction"`
}
