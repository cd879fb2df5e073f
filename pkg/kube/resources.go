package kube

import (
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/util/rand"
)

// GetContainerImagesFromPodSpec returns the distinct images of the init and
// regular containers of the specified v1.PodSpec.
func GetContainerImagesFromPodSpec(spec corev1.PodSpec) []string {
	var images []string
	seen := make(map[string]bool)
	add := func(containers []corev1.Container) {
		for _, container := range containers {
			if container.Image == "" || seen[container.Image] {
				continue
			}
			seen[container.Image] = true
			images = append(images, container.Image)
		}
	}
	add(spec.InitContainers)
	add(spec.Containers)
	return images
}

// ComputeHash returns a hash value calculated from a given object.
// The hash will be safe encoded to avoid bad words.
func ComputeHash(obj interface{}) string {
	hasher := fnv.New32a()
	DeepHashObject(hasher, obj)
	return rand.SafeEncodeString(fmt.Sprint(hasher.Sum32()))
}

// DeepHashObject writes specified object to hash using the spew library
// which follows pointers and prints actual values of the nested objects
// ensuring the hash does not change when a pointer changes.
func DeepHashObject(hasher hash.Hash, objectToWrite interface{}) {
	hasher.Reset()
	printer := spew.ConfigState{
		Indent:         " ",
		SortKeys:       true,
		DisableMethods: true,
		SpewKeys:       true,
	}
	printer.Fprintf(hasher, "%#v", objectToWrite)
}
