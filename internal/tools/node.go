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

const nodeRolePrefix = "node-role.kubernetes.io/"

var nodeKind = resourceKind{
	kind:    "Node",
	aliases: []string{"nodes", "node", "no"},
	columns: []string{"NAME", "STATUS", "ROLES", "AGE", "VERSION"},
	get: func(ctx context.Context, c kubernetes.Interface, _, name string) (runtime.Object, error) {
		return c.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, _ string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().Nodes().List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		node := obj.(*corev1.Node)
		return []string{
			node.Name,
			nodeStatus(node),
			nodeRoles(node),
			age(node.CreationTimestamp),
			node.Status.NodeInfo.KubeletVersion,
		}
	},
}

// nodeStatus reports Ready/NotReady plus any pressure condition that is set.
func nodeStatus(node *corev1.Node) string {
	status := "Unknown"
	var extra []string
	for _, cond := range node.Status.Conditions {
		switch cond.Type {
		case corev1.NodeReady:
			if cond.Status == corev1.ConditionTrue {
				status = "Ready"
			} else {
				status = "NotReady"
			}
		case corev1.NodeMemoryPressure, corev1.NodeDiskPressure, corev1.NodePIDPressure, corev1.NodeNetworkUnavailable:
			if cond.Status == corev1.ConditionTrue {
				extra = append(extra, string(cond.Type))
			}
		}
	}
	if node.Spec.Unschedulable {
		extra = append(extra, "SchedulingDisabled")
	}
	return strings.Join(append([]string{status}, extra...), ",")
}

func nodeRoles(node *corev1.Node) string {
	var roles []string
	for label := range node.Labels {
		if role, ok := strings.CutPrefix(label, nodeRolePrefix); ok && role != "" {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "<none>"
	}
	sort.Strings(roles)
	return strings.Join(roles, ",")
}
