package eval

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/shrikeio/shrike/internal/util"
)

// ContainerLimits requires every container to declare cpu and memory limits.
// Optional "cpu" and "memory" parameters set upper bounds that declared
// limits must not exceed. Works on Pods directly and on workloads embedding
// a pod template (Deployments, StatefulSets, Jobs, ...).
type ContainerLimits struct{}

func (ContainerLimits) Name() string {
	return "containerLimits"
}

func (ContainerLimits) Evaluate(ctx context.Context, params map[string]interface{}, obj *unstructured.Unstructured) ([]string, error) {
	maxCPU, err := quantityParam(params, "cpu")
	if err != nil {
		return nil, err
	}
	maxMemory, err := quantityParam(params, "memory")
	if err != nil {
		return nil, err
	}

	spec := podSpec(obj.Object)
	if spec == nil {
		// Not a pod-carrying resource; nothing to check.
		return nil, nil
	}

	var messages []string
	for _, field := range []string{"containers", "initContainers"} {
		for _, raw := range util.SafeNestedSlice(spec, field) {
			container, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			messages = append(messages, checkContainer(container, maxCPU, maxMemory)...)
		}
	}
	return messages, nil
}

// podSpec locates the pod spec either at .spec (Pod) or .spec.template.spec
// (workload controllers). Returns nil when neither holds containers.
func podSpec(obj map[string]interface{}) map[string]interface{} {
	if tplSpec := util.SafeNestedMap(obj, "spec", "template", "spec"); tplSpec != nil {
		if _, hasContainers := tplSpec["containers"]; hasContainers {
			return tplSpec
		}
	}
	if spec := util.SafeNestedMap(obj, "spec"); spec != nil {
		if _, hasContainers := spec["containers"]; hasContainers {
			return spec
		}
	}
	return nil
}

func checkContainer(container map[string]interface{}, maxCPU, maxMemory *resource.Quantity) []string {
	name := util.SafeStringFromMap(container, "name")
	limits := util.SafeNestedMap(container, "resources", "limits")

	var messages []string
	cpu := util.SafeStringFromMap(limits, "cpu")
	memory := util.SafeStringFromMap(limits, "memory")

	if cpu == "" {
		messages = append(messages, fmt.Sprintf("container %s has no cpu limit", name))
	} else if exceeded := exceedsBound(cpu, maxCPU); exceeded != "" {
		messages = append(messages, fmt.Sprintf("container %s cpu limit %s exceeds maximum %s", name, cpu, exceeded))
	}

	if memory == "" {
		messages = append(messages, fmt.Sprintf("container %s has no memory limit", name))
	} else if exceeded := exceedsBound(memory, maxMemory); exceeded != "" {
		messages = append(messages, fmt.Sprintf("container %s memory limit %s exceeds maximum %s", name, memory, exceeded))
	}
	return messages
}

// exceedsBound returns the bound's string form when the declared limit
// exceeds it, and "" otherwise. A malformed declared quantity counts as
// exceeding: an unparseable limit must not pass silently.
func exceedsBound(declared string, bound *resource.Quantity) string {
	if bound == nil {
		return ""
	}
	q, err := resource.ParseQuantity(declared)
	if err != nil {
		return bound.String()
	}
	if q.Cmp(*bound) > 0 {
		return bound.String()
	}
	return ""
}

func quantityParam(params map[string]interface{}, name string) (*resource.Quantity, error) {
	raw, ok := params[name]
	if !ok {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("containerLimits: parameter %q must be a quantity string, got %T", name, raw)
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return nil, fmt.Errorf("containerLimits: parameter %q: %v", name, err)
	}
	return &q, nil
}
