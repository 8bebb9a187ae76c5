package tools

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

var serviceKind = resourceKind{
	kind:       "Service",
	aliases:    []string{"services", "service", "svc"},
	namespaced: true,
	columns:    []string{"NAME", "TYPE", "CLUSTER-IP", "PORT(S)", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().Services(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		svc := obj.(*corev1.Service)
		ports := make([]string, 0, len(svc.Spec.Ports))
		for _, p := range svc.Spec.Ports {
			port := fmt.Sprintf("%d/%s", p.Port, p.Protocol)
			if p.NodePort != 0 {
				port = fmt.Sprintf("%d:%d/%s", p.Port, p.NodePort, p.Protocol)
			}
			ports = append(ports, port)
		}
		return []string{
			svc.Name,
			string(svc.Spec.Type),
			orNone(svc.Spec.ClusterIP),
			orNone(strings.Join(ports, ",")),
			age(svc.CreationTimestamp),
		}
	},
}

//nolint:staticcheck // Endpoints are still what most clusters expose for this view.
var endpointsKind = resourceKind{
	kind:       "Endpoints",
	aliases:    []string{"endpoints", "ep"},
	namespaced: true,
	columns:    []string{"NAME", "ENDPOINTS", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.CoreV1().Endpoints(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().Endpoints(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		ep := obj.(*corev1.Endpoints)
		var addrs []string
		for _, subset := range ep.Subsets {
			for _, addr := range subset.Addresses {
				if len(subset.Ports) == 0 {
					addrs = append(addrs, addr.IP)
					continue
				}
				for _, p := range subset.Ports {
					addrs = append(addrs, fmt.Sprintf("%s:%d", addr.IP, p.Port))
				}
			}
		}
		return []string{ep.Name, orNone(strings.Join(addrs, ",")), age(ep.CreationTimestamp)}
	},
}
