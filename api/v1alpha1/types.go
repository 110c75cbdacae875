// Package v1alpha1 defines the document shapes policy authors submit:
// ConstraintTemplate manifests and the dynamically-kinded constraint
// manifests instantiating them.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// TemplateGroup is the API group for ConstraintTemplate documents.
	TemplateGroup = "templates.shrike.io"

	// ConstraintGroup is the API group for constraint documents. The kind
	// of a constraint document is whatever its template declared.
	ConstraintGroup = "constraints.shrike.io"

	// Version is the only served version of both groups.
	Version = "v1alpha1"

	// TemplateKind is the manifest kind for templates.
	TemplateKind = "ConstraintTemplate"
)

// TemplateAPIVersion is the full apiVersion string of template documents.
const TemplateAPIVersion = TemplateGroup + "/" + Version

// ConstraintAPIVersion is the full apiVersion string of constraint documents.
const ConstraintAPIVersion = ConstraintGroup + "/" + Version

// ConstraintTemplate is a reusable policy definition manifest.
type ConstraintTemplate struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ConstraintTemplateSpec `json:"spec"`
}

type ConstraintTemplateSpec struct {
	// CRD declares the constraint kind this template instantiates.
	CRD CRDSpec `json:"crd"`

	// Parameters declares the parameter schema constraints must satisfy.
	Parameters []ParameterSpec `json:"parameters,omitempty"`

	// Targets reference the evaluation logic, one entry per check.
	Targets []TargetSpec `json:"targets"`
}

type CRDSpec struct {
	Spec CRDSpecSpec `json:"spec"`
}

type CRDSpecSpec struct {
	Names CRDNames `json:"names"`
}

type CRDNames struct {
	Kind string `json:"kind"`
}

type ParameterSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

// TargetSpec names a registered check and carries an opaque policy body for
// external evaluation engines.
type TargetSpec struct {
	Check  string `json:"check"`
	Source string `json:"source,omitempty"`
}
