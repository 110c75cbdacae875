package eval

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// RequiredLabels denies resources missing any of the labels listed in the
// "labels" parameter. The violation message names exactly the labels that
// are missing so callers can act on the response.
type RequiredLabels struct{}

func (RequiredLabels) Name() string {
	return "requiredLabels"
}

func (RequiredLabels) Evaluate(ctx context.Context, params map[string]interface{}, obj *unstructured.Unstructured) ([]string, error) {
	required := stringListParam(params, "labels")
	if len(required) == 0 {
		return nil, fmt.Errorf("requiredLabels: parameter %q is empty", "labels")
	}

	labels := obj.GetLabels()
	var missing []string
	for _, key := range required {
		if _, present := labels[key]; !present {
			missing = append(missing, key)
		}
	}

	if len(missing) == 0 {
		return nil, nil
	}
	return []string{fmt.Sprintf("missing required labels: %s", strings.Join(missing, ", "))}, nil
}

// stringListParam reads a parameter decoded as either []string or
// []interface{}, which is what YAML and JSON decoding respectively produce.
func stringListParam(params map[string]interface{}, name string) []string {
	raw, ok := params[name]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}
