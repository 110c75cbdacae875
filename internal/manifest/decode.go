// Package manifest decodes policy documents from YAML and loads policy
// directories into the store.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/shrikeio/shrike/api/v1alpha1"
	"github.com/shrikeio/shrike/internal/types"
	"github.com/shrikeio/shrike/internal/util"
)

// SplitDocuments splits multi-document YAML on "---" separator lines.
// Empty documents are dropped.
func SplitDocuments(data []byte) [][]byte {
	var docs [][]byte
	var current bytes.Buffer

	flush := func() {
		doc := bytes.TrimSpace(current.Bytes())
		if len(doc) > 0 {
			out := make([]byte, len(doc))
			copy(out, doc)
			docs = append(docs, out)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return docs
}

// DecodeObject parses one YAML document into an unstructured object.
func DecodeObject(data []byte) (*unstructured.Unstructured, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &unstructured.Unstructured{Object: raw}, nil
}

// IsTemplate reports whether the object is a ConstraintTemplate document.
func IsTemplate(obj *unstructured.Unstructured) bool {
	return obj.GroupVersionKind().Group == v1alpha1.TemplateGroup &&
		obj.GetKind() == v1alpha1.TemplateKind
}

// IsConstraint reports whether the object is a constraint document.
func IsConstraint(obj *unstructured.Unstructured) bool {
	return obj.GroupVersionKind().Group == v1alpha1.ConstraintGroup
}

// DecodeTemplate converts a ConstraintTemplate document into the engine's
// template representation.
func DecodeTemplate(obj *unstructured.Unstructured) (types.Template, error) {
	data, err := yaml.Marshal(obj.Object)
	if err != nil {
		return types.Template{}, fmt.Errorf("template %s: %w", obj.GetName(), err)
	}

	var doc v1alpha1.ConstraintTemplate
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return types.Template{}, fmt.Errorf("template %s: %w", obj.GetName(), err)
	}

	tpl := types.Template{
		Name: doc.Name,
		Kind: doc.Spec.CRD.Spec.Names.Kind,
	}
	for _, p := range doc.Spec.Parameters {
		tpl.Parameters = append(tpl.Parameters, types.ParameterSpec{
			Name:     p.Name,
			Type:     types.ParamType(p.Type),
			Required: p.Required,
		})
	}
	for _, t := range doc.Spec.Targets {
		tpl.Targets = append(tpl.Targets, types.TemplateTarget{
			Check:  t.Check,
			Source: t.Source,
		})
	}

	if err := tpl.Validate(); err != nil {
		return types.Template{}, err
	}
	return tpl, nil
}

// DecodeConstraint converts a constraint document into the engine's
// constraint representation. The document's kind selects the template; the
// store resolves that binding at registration time.
func DecodeConstraint(obj *unstructured.Unstructured) (types.Constraint, error) {
	name := obj.GetName()
	if name == "" {
		return types.Constraint{}, fmt.Errorf("constraint document has no metadata.name")
	}

	spec := util.SafeNestedMap(obj.Object, "spec")
	if spec == nil {
		return types.Constraint{}, fmt.Errorf("constraint %s: missing spec", name)
	}

	action, err := types.ParseEnforcementAction(util.SafeNestedString(spec, "enforcementAction"))
	if err != nil {
		return types.Constraint{}, fmt.Errorf("constraint %s: %w", name, err)
	}

	c := types.Constraint{
		Name:              name,
		Kind:              obj.GetKind(),
		EnforcementAction: action,
		Parameters:        util.SafeNestedMap(spec, "parameters"),
	}

	if matchBlock := util.SafeNestedMap(spec, "match"); matchBlock != nil {
		c.Match = decodeMatch(matchBlock)
	}
	return c, nil
}

func decodeMatch(matchBlock map[string]interface{}) types.MatchSpec {
	m := types.MatchSpec{
		Namespaces:    util.SafeNestedStringSlice(matchBlock, "namespaces"),
		LabelSelector: util.SafeNestedLabelSelector(matchBlock, "labelSelector"),
	}

	for _, raw := range util.SafeNestedSlice(matchBlock, "kinds") {
		kindMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		target := types.KindTarget{
			APIGroups: util.SafeNestedStringSlice(kindMap, "apiGroups"),
			Kinds:     util.SafeNestedStringSlice(kindMap, "kinds"),
		}
		if len(target.Kinds) > 0 {
			m.Kinds = append(m.Kinds, target)
		}
	}
	return m
}

func isList(obj *unstructured.Unstructured) bool {
	return strings.HasSuffix(obj.GetKind(), "List")
}
