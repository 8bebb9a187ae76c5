package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestKubectl(t *testing.T) *KubectlTool {
	t.Helper()
	three := int32(3)
	client := fake.NewSimpleClientset(
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:          "web-0",
				Namespace:     "shop",
				Labels:        map[string]string{"app": "web"},
				ManagedFields: []metav1.ManagedFieldsEntry{{Manager: "kubectl"}},
			},
			Spec: corev1.PodSpec{NodeName: "node-a", Containers: []corev1.Container{{Name: "web"}}},
			Status: corev1.PodStatus{
				Phase: corev1.PodRunning,
				ContainerStatuses: []corev1.ContainerStatus{{
					Name:         "web",
					RestartCount: 7,
					State:        corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"}},
				}},
			},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "db-0", Namespace: "shop", Labels: map[string]string{"app": "db"}},
			Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "db"}}},
			Status: corev1.PodStatus{
				Phase:             corev1.PodRunning,
				ContainerStatuses: []corev1.ContainerStatus{{Name: "db", Ready: true}},
			},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "prometheus-0", Namespace: "monitoring"},
			Status:     corev1.PodStatus{Phase: corev1.PodRunning},
		},
		&corev1.Event{
			ObjectMeta:     metav1.ObjectMeta{Name: "web-0.1", Namespace: "shop"},
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "web-0", Namespace: "shop"},
			Type:           "Warning",
			Reason:         "BackOff",
			Message:        "Back-off restarting failed container",
			Count:          12,
		},
		&corev1.Event{
			ObjectMeta:     metav1.ObjectMeta{Name: "db-0.1", Namespace: "shop"},
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "db-0", Namespace: "shop"},
			Type:           "Normal",
			Reason:         "Pulled",
			Message:        "Container image already present",
		},
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{
				Name:   "node-a",
				Labels: map[string]string{"node-role.kubernetes.io/control-plane": ""},
			},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
					{Type: corev1.NodeDiskPressure, Status: corev1.ConditionTrue},
				},
				NodeInfo: corev1.NodeSystemInfo{KubeletVersion: "v1.31.0"},
			},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "shop"},
			Spec: corev1.ServiceSpec{
				Type:      corev1.ServiceTypeClusterIP,
				ClusterIP: "10.96.0.10",
				Ports:     []corev1.ServicePort{{Port: 80, Protocol: corev1.ProtocolTCP}},
			},
		},
		&corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{Name: "data-db-0", Namespace: "shop"},
			Spec:       corev1.PersistentVolumeClaimSpec{VolumeName: "pv-1"},
			Status: corev1.PersistentVolumeClaimStatus{
				Phase:       corev1.ClaimBound,
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				Capacity:    corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("10Gi")},
			},
		},
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "shop"},
			Spec:       appsv1.DeploymentSpec{Replicas: &three},
			Status:     appsv1.DeploymentStatus{ReadyReplicas: 2, UpdatedReplicas: 3, AvailableReplicas: 2},
		},
	)
	return &KubectlTool{client: client, defaultNamespace: "default"}
}

func run(t *testing.T, tool *KubectlTool, command string) (string, error) {
	t.Helper()
	args, _ := json.Marshal(kubectlArgs{Command: command})
	return tool.Execute(context.Background(), string(args))
}

func TestKubectlTool_Get(t *testing.T) {
	tool := newTestKubectl(t)

	t.Run("lists pods as a table", func(t *testing.T) {
		out, err := run(t, tool, "kubectl get pods -n shop")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"NAME", "READY", "STATUS", "web-0", "db-0", "CrashLoopBackOff", "0/1", "1/1", "7"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
		if strings.Contains(out, "prometheus-0") {
			t.Errorf("pods from other namespaces leaked:\n%s", out)
		}
	})

	t.Run("all namespaces adds a namespace column", func(t *testing.T) {
		out, err := run(t, tool, "get po -A")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(out, "NAMESPACE") || !strings.Contains(out, "monitoring") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("label selector", func(t *testing.T) {
		out, err := run(t, tool, "get pods -n shop -l app=db")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(out, "web-0") || !strings.Contains(out, "db-0") {
			t.Errorf("selector not applied:\n%s", out)
		}
	})

	t.Run("single object as json without managed fields", func(t *testing.T) {
		out, err := run(t, tool, "get pod web-0 -n shop -o json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !json.Valid([]byte(out)) {
			t.Fatalf("output is not valid JSON:\n%s", out)
		}
		if strings.Contains(out, "managedFields") {
			t.Errorf("managed fields were not stripped")
		}
	})

	t.Run("kind/name form as yaml", func(t *testing.T) {
		out, err := run(t, tool, "get pod/web-0 -n=shop -oyaml")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "name: web-0") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("cluster scoped resources", func(t *testing.T) {
		out, err := run(t, tool, "get nodes")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"node-a", "Ready,DiskPressure", "control-plane", "v1.31.0"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("services, claims and deployments", func(t *testing.T) {
		cases := map[string][]string{
			"get svc -n shop":              {"10.96.0.10", "80/TCP"},
			"get pvc -n shop":              {"data-db-0", "Bound", "10Gi", "RWO"},
			"get deployments.apps -n shop": {"web", "2/3"},
			"get events -n shop":           {"BackOff", "pod/web-0"},
			"events -n shop":               {"Pulled"},
		}
		for command, wants := range cases {
			out, err := run(t, tool, command)
			if err != nil {
				t.Errorf("%s: unexpected error: %v", command, err)
				continue
			}
			for _, want := range wants {
				if !strings.Contains(out, want) {
					t.Errorf("%s: expected %q in output:\n%s", command, want, out)
				}
			}
		}
	})

	t.Run("empty namespace", func(t *testing.T) {
		out, err := run(t, tool, "get pods")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "No resources found in default namespace." {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		if _, err := run(t, tool, "get pod nope -n shop"); err == nil {
			t.Errorf("expected error for missing pod")
		}
	})
}

func TestKubectlTool_Describe(t *testing.T) {
	tool := newTestKubectl(t)

	out, err := run(t, tool, "describe pod web-0 -n shop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "name: web-0") || !strings.Contains(out, "Events:") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "[Warning] BackOff: Back-off restarting failed container (count: 12)") {
		t.Errorf("expected pod events in output:\n%s", out)
	}
	if strings.Contains(out, "Container image already present") {
		t.Errorf("events of other objects leaked:\n%s", out)
	}

	if _, err := run(t, tool, "describe pod"); err == nil {
		t.Errorf("expected error without a name")
	}
}

func TestKubectlTool_Logs(t *testing.T) {
	tool := newTestKubectl(t)

	out, err := run(t, tool, "logs pod/web-0 -n shop --tail=20 -c web")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "" {
		t.Errorf("expected log output")
	}

	if _, err := run(t, tool, "logs svc/web -n shop"); err == nil {
		t.Errorf("expected error for non-pod logs")
	}
}

func TestKubectlTool_ReadOnly(t *testing.T) {
	tool := newTestKubectl(t)

	for _, command := range []string{"delete pod web-0 -n shop", "scale deploy web --replicas=0", "exec web-0 -- sh"} {
		_, err := run(t, tool, command)
		if err == nil || !strings.Contains(err.Error(), "read-only") {
			t.Errorf("%s: expected read-only error, got %v", command, err)
		}
	}

	_, err := tool.Execute(context.Background(), `{"command":"","yaml":"apiVersion: v1\nkind: Pod"}`)
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Errorf("expected manifests to be refused, got %v", err)
	}

	if _, err := run(t, tool, "top pods"); err == nil {
		t.Errorf("expected unsupported verb error")
	}
	if _, err := run(t, tool, "get widgets"); err == nil {
		t.Errorf("expected unsupported resource error")
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("kubectl get pods -n kube-system -l app=dns -o wide")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.verb != "get" || cmd.resource != "pods" || cmd.namespace != "kube-system" || cmd.selector != "app=dns" || cmd.output != "wide" {
		t.Errorf("unexpected parse %+v", cmd)
	}

	cmd, err = parseCommand("logs web-0 --tail 50 -p")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.name != "web-0" || cmd.tail != 50 || !cmd.previous {
		t.Errorf("unexpected parse %+v", cmd)
	}

	for _, bad := range []string{"", "kubectl", "get pods -n", "get pods --watch", "get pods,svc", "logs web-0 --tail=abc"} {
		if _, err := parseCommand(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestClusterProvider_ListTools(t *testing.T) {
	p := NewClusterProvider(fake.NewSimpleClientset(), "")
	tools, err := p.ListTools(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tools) != 1 || tools[0].Name() != "kubectl" {
		t.Errorf("expected the kubectl tool, got %v", toolNames(tools))
	}
	if !json.Valid([]byte(tools[0].Schema())) {
		t.Errorf("schema is not valid JSON")
	}
}

func TestEventTime(t *testing.T) {
	created := metav1.NewTime(time.Now().Add(-3 * time.Hour))
	last := metav1.NewTime(time.Now().Add(-time.Hour))
	micro := metav1.NewMicroTime(time.Now().Add(-2 * time.Hour))

	cases := []struct {
		name  string
		event corev1.Event
		want  time.Time
	}{
		{"last timestamp wins", corev1.Event{ObjectMeta: metav1.ObjectMeta{CreationTimestamp: created}, LastTimestamp: last, EventTime: micro}, last.Time},
		{"event time", corev1.Event{ObjectMeta: metav1.ObjectMeta{CreationTimestamp: created}, EventTime: micro}, micro.Time},
		{"creation timestamp", corev1.Event{ObjectMeta: metav1.ObjectMeta{CreationTimestamp: created}}, created.Time},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := eventTime(tc.event)
			if !got.Time.Equal(tc.want) {
				t.Errorf("eventTime() = %v, want %v", got.Time, tc.want)
			}
			if a := age(got); a == "<unknown>" {
				t.Errorf("age() = %q for a set timestamp", a)
			}
		})
	}
}
