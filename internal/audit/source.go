package audit

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// DynamicSource lists audit targets from the cluster via the dynamic client.
// Targets are given as group/version/resource strings, e.g. "apps/v1/deployments"
// or "v1/pods" for the core group.
type DynamicSource struct {
	client dynamic.Interface
	gvrs   []schema.GroupVersionResource
}

// NewDynamicSource creates a DynamicSource for the given targets.
func NewDynamicSource(client dynamic.Interface, targets []string) (*DynamicSource, error) {
	gvrs := make([]schema.GroupVersionResource, 0, len(targets))
	for _, t := range targets {
		gvr, err := ParseTarget(t)
		if err != nil {
			return nil, err
		}
		gvrs = append(gvrs, gvr)
	}
	return &DynamicSource{client: client, gvrs: gvrs}, nil
}

// ParseTarget parses "group/version/resource" or "version/resource" (core group).
func ParseTarget(s string) (schema.GroupVersionResource, error) {
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 2:
		return schema.GroupVersionResource{Version: parts[0], Resource: parts[1]}, nil
	case 3:
		return schema.GroupVersionResource{Group: parts[0], Version: parts[1], Resource: parts[2]}, nil
	default:
		return schema.GroupVersionResource{}, fmt.Errorf("invalid audit target %q, want [group/]version/resource", s)
	}
}

// List returns every object of every configured target across all namespaces.
func (d *DynamicSource) List(ctx context.Context) ([]*unstructured.Unstructured, error) {
	var result []*unstructured.Unstructured
	for _, gvr := range d.gvrs {
		list, err := d.client.Resource(gvr).List(ctx, metav1.ListOptions{})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", gvr.Resource, err)
		}
		for i := range list.Items {
			result = append(result, &list.Items[i])
		}
	}
	return result, nil
}

// StaticSource serves a fixed resource snapshot. Used by the offline CLI
// path and in tests.
type StaticSource struct {
	Objects []*unstructured.Unstructured
}

func (s *StaticSource) List(ctx context.Context) ([]*unstructured.Unstructured, error) {
	return s.Objects, nil
}
