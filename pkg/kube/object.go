package kube

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// Kind represents the type of a Kubernetes Resource.
type Kind string

const (
	KindPod                   Kind = "Pod"
	KindReplicaSet            Kind = "ReplicaSet"
	KindReplicationController Kind = "ReplicationController"
	KindDeployment            Kind = "Deployment"
	KindStatefulSet           Kind = "StatefulSet"
	KindDaemonSet             Kind = "DaemonSet"
	KindCronJob               Kind = "CronJob"
	KindJob                   Kind = "Job"

	// KindImage is the kind of the synthetic resource representing a scanned
	// container image.
	KindImage Kind = "Image"
)

// Workloads lists the kinds that embed a pod template.
var Workloads = []Kind{
	KindPod,
	KindReplicaSet,
	KindReplicationController,
	KindDeployment,
	KindStatefulSet,
	KindDaemonSet,
	KindJob,
	KindCronJob,
}

// IsWorkload returns true if the specified resource kind represents a
// built-in Kubernetes workload, false otherwise.
func IsWorkload(kind string) bool {
	for _, k := range Workloads {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// Resource is a Kubernetes object read from a manifest file. Object holds
// the generic tree the document was decoded into.
type Resource struct {
	Kind       string
	APIVersion string
	Namespace  string
	Name       string
	File       string
	Object     map[string]interface{}
}

// ID identifies the resource within a run as kind/namespace/name, or
// kind/name for cluster scoped resources.
func (r Resource) ID() string {
	if r.Namespace == "" {
		return fmt.Sprintf("%s/%s", r.Kind, r.Name)
	}
	return fmt.Sprintf("%s/%s/%s", r.Kind, r.Namespace, r.Name)
}

// NewResource wraps a decoded object.
func NewResource(object map[string]interface{}, file string) Resource {
	u := unstructured.Unstructured{Object: object}
	return Resource{
		Kind:       u.GetKind(),
		APIVersion: u.GetAPIVersion(),
		Namespace:  u.GetNamespace(),
		Name:       u.GetName(),
		File:       file,
		Object:     object,
	}
}

// NewImageResource returns the synthetic resource standing for a container
// image, so that rules about findings can be evaluated for image targets.
func NewImageResource(image string) Resource {
	return NewResource(map[string]interface{}{
		"apiVersion": "lookout.aquasecurity.github.io/v1alpha1",
		"kind":       string(KindImage),
		"metadata": map[string]interface{}{
			"name": image,
		},
		"image": image,
	}, "")
}

// PodTemplatePath returns the fields leading to the pod template of the
// specified workload kind. A Pod is its own template.
func PodTemplatePath(kind string) ([]string, bool) {
	switch Kind(kind) {
	case KindPod:
		return []string{}, true
	case KindDeployment, KindReplicaSet, KindReplicationController, KindStatefulSet, KindDaemonSet, KindJob:
		return []string{"spec", "template"}, true
	case KindCronJob:
		return []string{"spec", "jobTemplate", "spec", "template"}, true
	}
	return nil, false
}

// PodTemplate returns the pod template embedded in a workload resource,
// i.e. an object with metadata and spec fields shaped like a Pod.
func PodTemplate(resource Resource) (map[string]interface{}, bool) {
	path, ok := PodTemplatePath(resource.Kind)
	if !ok {
		return nil, false
	}
	if len(path) == 0 {
		return resource.Object, true
	}
	template, found, err := unstructured.NestedMap(resource.Object, path...)
	if err != nil || !found {
		return nil, false
	}
	return template, true
}

// GetPodSpec returns v1.PodSpec from the specified workload Resource.
// Returns error if the given Resource is not a Kubernetes workload.
func GetPodSpec(resource Resource) (corev1.PodSpec, error) {
	template, ok := PodTemplate(resource)
	if !ok {
		return corev1.PodSpec{}, fmt.Errorf("unsupported workload: %s", resource.ID())
	}
	spec, found, err := unstructured.NestedMap(template, "spec")
	if err != nil {
		return corev1.PodSpec{}, fmt.Errorf("reading pod spec of %s: %w", resource.ID(), err)
	}
	if !found {
		return corev1.PodSpec{}, nil
	}
	var podSpec corev1.PodSpec
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(spec, &podSpec); err != nil {
		return corev1.PodSpec{}, fmt.Errorf("converting pod spec of %s: %w", resource.ID(), err)
	}
	return podSpec, nil
}

// ContainerImages returns the distinct images of init and regular
// containers of a workload, in declaration order.
func ContainerImages(resource Resource) ([]string, error) {
	spec, err := GetPodSpec(resource)
	if err != nil {
		return nil, err
	}
	return GetContainerImagesFromPodSpec(spec), nil
}
