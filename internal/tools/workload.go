package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

var deploymentKind = resourceKind{
	kind:       "Deployment",
	aliases:    []string{"deployments", "deployment", "deploy"},
	namespaced: true,
	columns:    []string{"NAME", "READY", "UP-TO-DATE", "AVAILABLE", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.AppsV1().Deployments(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		d := obj.(*appsv1.Deployment)
		return []string{
			d.Name,
			fmt.Sprintf("%d/%d", d.Status.ReadyReplicas, replicas(d.Spec.Replicas)),
			fmt.Sprint(d.Status.UpdatedReplicas),
			fmt.Sprint(d.Status.AvailableReplicas),
			age(d.CreationTimestamp),
		}
	},
}

var statefulSetKind = resourceKind{
	kind:       "StatefulSet",
	aliases:    []string{"statefulsets", "statefulset", "sts"},
	namespaced: true,
	columns:    []string{"NAME", "READY", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.AppsV1().StatefulSets(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.AppsV1().StatefulSets(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		s := obj.(*appsv1.StatefulSet)
		return []string{
			s.Name,
			fmt.Sprintf("%d/%d", s.Status.ReadyReplicas, replicas(s.Spec.Replicas)),
			age(s.CreationTimestamp),
		}
	},
}

var daemonSetKind = resourceKind{
	kind:       "DaemonSet",
	aliases:    []string{"daemonsets", "daemonset", "ds"},
	namespaced: true,
	columns:    []string{"NAME", "DESIRED", "CURRENT", "READY", "AVAILABLE", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.AppsV1().DaemonSets(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.AppsV1().DaemonSets(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		d := obj.(*appsv1.DaemonSet)
		return []string{
			d.Name,
			fmt.Sprint(d.Status.DesiredNumberScheduled),
			fmt.Sprint(d.Status.CurrentNumberScheduled),
			fmt.Sprint(d.Status.NumberReady),
			fmt.Sprint(d.Status.NumberAvailable),
			age(d.CreationTimestamp),
		}
	},
}

var namespaceKind = resourceKind{
	kind:    "Namespace",
	aliases: []string{"namespaces", "namespace", "ns"},
	columns: []string{"NAME", "STATUS", "AGE"},
	get: func(ctx context.Context, c kubernetes.Interface, _, name string) (runtime.Object, error) {
		return c.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, _ string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().Namespaces().List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		ns := obj.(*corev1.Namespace)
		return []string{ns.Name, string(ns.Status.Phase), age(ns.CreationTimestamp)}
	},
}

var eventKind = resourceKind{
	kind:       "Event",
	aliases:    []string{"events", "event", "ev"},
	namespaced: true,
	columns:    []string{"LAST SEEN", "TYPE", "REASON", "OBJECT", "MESSAGE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.CoreV1().Events(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		list, err := c.CoreV1().Events(ns).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(list.Items, func(i, j int) bool {
			return eventTime(list.Items[i]).Time.Before(eventTime(list.Items[j]).Time)
		})
		return list, nil
	},
	row: func(obj runtime.Object) []string {
		e := obj.(*corev1.Event)
		ref := strings.ToLower(e.InvolvedObject.Kind) + "/" + e.InvolvedObject.Name
		return []string{age(eventTime(*e)), e.Type, e.Reason, ref, e.Message}
	},
}

func eventTime(e corev1.Event) metav1.Time {
	switch {
	case !e.LastTimestamp.IsZero():
		return e.LastTimestamp
	case !e.EventTime.IsZero():
		return metav1.NewTime(e.EventTime.Time)
	default:
		return e.CreationTimestamp
	}
}

// objectEvents lists the events of one object, oldest first.
func objectEvents(ctx context.Context, c kubernetes.Interface, ns, kind, name string) (string, error) {
	events, err := c.CoreV1().Events(ns).List(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("involvedObject.name=%s,involvedObject.kind=%s", name, kind),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list events: %w", err)
	}

	var matched []corev1.Event
	for _, e := range events.Items {
		// Not every client honours field selectors.
		if e.InvolvedObject.Name == name && e.InvolvedObject.Kind == kind {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return "<none>\n", nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return eventTime(matched[i]).Time.Before(eventTime(matched[j]).Time)
	})

	var b strings.Builder
	for _, e := range matched {
		fmt.Fprintf(&b, "[%s] %s: %s (count: %d)\n", e.Type, e.Reason, e.Message, e.Count)
	}
	return b.String(), nil
}

func replicas(n *int32) int32 {
	if n == nil {
		return 1
	}
	return *n
}
