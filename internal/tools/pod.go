package tools

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
)

const defaultLogTail = 100

var podKind = resourceKind{
	kind:       "Pod",
	aliases:    []string{"pods", "pod", "po"},
	namespaced: true,
	columns:    []string{"NAME", "READY", "STATUS", "RESTARTS", "AGE", "NODE"},
	get: func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return c.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
	},
	list: func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error) {
		return c.CoreV1().Pods(ns).List(ctx, opts)
	},
	row: func(obj runtime.Object) []string {
		pod := obj.(*corev1.Pod)
		ready := 0
		var restarts int32
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Ready {
				ready++
			}
			restarts += cs.RestartCount
		}
		return []string{
			pod.Name,
			fmt.Sprintf("%d/%d", ready, len(pod.Spec.Containers)),
			podStatus(pod),
			strconv.Itoa(int(restarts)),
			age(pod.CreationTimestamp),
			orNone(pod.Spec.NodeName),
		}
	},
}

// podStatus mirrors the STATUS column of kubectl: a waiting or terminated
// container reason wins over the pod phase.
func podStatus(pod *corev1.Pod) string {
	if pod.DeletionTimestamp != nil {
		return "Terminating"
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
		if cs.State.Terminated != nil && cs.State.Terminated.Reason != "" {
			return cs.State.Terminated.Reason
		}
	}
	if pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	return string(pod.Status.Phase)
}

// podLogs returns the tail of a container log.
func podLogs(ctx context.Context, c kubernetes.Interface, ns, name string, cmd kubectlCommand) (string, error) {
	tail := cmd.tail
	if tail <= 0 {
		tail = defaultLogTail
	}
	req := c.CoreV1().Pods(ns).GetLogs(name, &corev1.PodLogOptions{
		Container: cmd.container,
		Previous:  cmd.previous,
		TailLines: &tail,
	})

	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("error in opening stream: %w", err)
	}
	defer stream.Close()

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, io.LimitReader(stream, maxOutputBytes+1)); err != nil {
		return "", fmt.Errorf("error in reading stream: %w", err)
	}
	if buf.Len() == 0 {
		return fmt.Sprintf("No logs for pod %s/%s.", ns, name), nil
	}
	return buf.String(), nil
}
