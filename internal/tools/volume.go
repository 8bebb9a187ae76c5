package tools

import (
	"context"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

var pvcKind = resourceKind{
	kind:       "PersistentVolumeClaim",
	aliases:    []string{"persistentvolumeclaims", "persistentvolumeclaim", "pvc"},
	namespaced: true,
	columns:    []string{"NAME", "STATUS", "VOLUME", "CAPACITY", "ACCESS MODES", "STORAGECLASS", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.CoreV1().PersistentVolumeClaims(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().PersistentVolumeClaims(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		pvc := obj.(*corev1.PersistentVolumeClaim)
		capacity := ""
		if q, ok := pvc.Status.Capacity[corev1.ResourceStorage]; ok {
			capacity = q.String()
		}
		class := ""
		if pvc.Spec.StorageClassName != nil {
			class = *pvc.Spec.StorageClassName
		}
		return []string{
			pvc.Name,
			string(pvc.Status.Phase),
			orNone(pvc.Spec.VolumeName),
			orNone(capacity),
			accessModes(pvc.Status.AccessModes),
			orNone(class),
			age(pvc.CreationTimestamp),
		}
	},
}

var pvKind = resourceKind{
	kind:    "PersistentVolume",
	aliases: []string{"persistentvolumes", "persistentvolume", "pv"},
	columns: []string{"NAME", "CAPACITY", "ACCESS MODES", "STATUS", "CLAIM", "STORAGECLASS", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, _, name string) (runtime.Object, error) {
		return c.CoreV1().PersistentVolumes().Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, _ string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().PersistentVolumes().List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		pv := obj.(*corev1.PersistentVolume)
		capacity := ""
		if q, ok := pv.Spec.Capacity[corev1.ResourceStorage]; ok {
			capacity = q.String()
		}
		claim := ""
		if ref := pv.Spec.ClaimRef; ref != nil {
			claim = ref.Namespace + "/" + ref.Name
		}
		return []string{
			pv.Name,
			orNone(capacity),
			accessModes(pv.Spec.AccessModes),
			string(pv.Status.Phase),
			orNone(claim),
			orNone(pv.Spec.StorageClassName),
			age(pv.CreationTimestamp),
		}
	},
}

var accessModeShort = map[corev1.PersistentVolumeAccessMode]string{
	corev1.ReadWriteOnce:    "RWO",
	corev1.ReadOnlyMany:     "ROX",
	corev1.ReadWriteMany:    "RWX",
	corev1.ReadWriteOncePod: "RWOP",
}

func accessModes(modes []corev1.PersistentVolumeAccessMode) string {
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		if s, ok := accessModeShort[m]; ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return orNone(strings.Join(out, ","))
}
