package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/duration"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"

	"kubepulse/internal/agent"
)

// KubectlToolName is the cluster-command capability.
const KubectlToolName = "kubectl"

const maxOutputBytes = 32 * 1024

// resourceKind describes how to read and tabulate one resource type.
type resourceKind struct {
	kind       string
	aliases    []string
	namespaced bool
	columns    []string
	get        func(ctx context.Context, c kubernetes.Interface, ns, name string) (runtime.Object, error)
	list       func(ctx context.Context, c kubernetes.Interface, ns string, opts metav1.ListOptions) (runtime.Object, error)
	row        func(obj runtime.Object) []string
}

var resourceKinds = []*resourceKind{
	&podKind, &nodeKind, &serviceKind, &endpointsKind, &pvcKind, &pvKind,
	&deploymentKind, &statefulSetKind, &daemonSetKind, &namespaceKind, &eventKind,
}

func lookupResource(name string) (*resourceKind, error) {
	name = strings.ToLower(name)
	// "deployments.apps" and friends
	if base, _, ok := strings.Cut(name, "."); ok {
		name = base
	}
	for _, k := range resourceKinds {
		for _, a := range k.aliases {
			if a == name {
				return k, nil
			}
		}
	}
	return nil, fmt.Errorf("unsupported resource type %q", name)
}

// ClusterProvider serves the read-only kubectl capability.
type ClusterProvider struct {
	client           kubernetes.Interface
	defaultNamespace string
}

// NewClusterProvider creates a cluster provider. An empty namespace means
// "default".
func NewClusterProvider(client kubernetes.Interface, defaultNamespace string) *ClusterProvider {
	if defaultNamespace == "" {
		defaultNamespace = metav1.NamespaceDefault
	}
	return &ClusterProvider{client: client, defaultNamespace: defaultNamespace}
}

func (p *ClusterProvider) Name() string { return "cluster" }

func (p *ClusterProvider) ListTools(_ context.Context) ([]agent.Tool, error) {
	return []agent.Tool{&KubectlTool{client: p.client, defaultNamespace: p.defaultNamespace}}, nil
}

// KubectlTool implements the kubectl tool. Only read verbs are served.
type KubectlTool struct {
	client           kubernetes.Interface
	defaultNamespace string
}

type kubectlArgs struct {
	Command string `json:"command"`
	YAML    string `json:"yaml"`
}

// kubectlCommand is a parsed command line.
type kubectlCommand struct {
	verb          string
	resource      string
	name          string
	namespace     string
	allNamespaces bool
	selector      string
	output        string
	container     string
	tail          int64
	previous      bool
}

var mutatingVerbs = map[string]bool{
	"apply": true, "create": true, "delete": true, "edit": true, "patch": true,
	"replace": true, "scale": true, "label": true, "annotate": true, "cordon": true,
	"uncordon": true, "drain": true, "taint": true, "rollout": true, "exec": true,
	"cp": true, "run": true, "expose": true, "set": true, "autoscale": true,
}

func (t *KubectlTool) Name() string { return KubectlToolName }

func (t *KubectlTool) Description() string {
	return "Run a read-only kubectl command against the cluster, e.g. \"get pods -n monitoring\", \"describe pod web-0 -n shop\" or \"logs web-0 -n shop --tail=50\". Supported verbs: get, describe, logs, events."
}

func (t *KubectlTool) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The kubectl command line, with or without the leading kubectl"
			}
		},
		"required": ["command"]
	}`
}

func (t *KubectlTool) Execute(ctx context.Context, args string) (string, error) {
	var parsed kubectlArgs
	if err := decodeArgs(args, &parsed); err != nil {
		return "", err
	}
	if strings.TrimSpace(parsed.YAML) != "" {
		return "", fmt.Errorf("applying manifests is not allowed: cluster access is read-only")
	}
	cmd, err := parseCommand(parsed.Command)
	if err != nil {
		return "", err
	}

	var out string
	switch cmd.verb {
	case "get":
		out, err = t.get(ctx, cmd)
	case "events":
		cmd.resource = "events"
		out, err = t.get(ctx, cmd)
	case "describe":
		out, err = t.describe(ctx, cmd)
	case "logs", "log":
		out, err = t.logs(ctx, cmd)
	default:
		return "", fmt.Errorf("unsupported kubectl verb %q: use get, describe, logs or events", cmd.verb)
	}
	if err != nil {
		return "", err
	}
	return limitOutput(out), nil
}

func (t *KubectlTool) namespace(kind *resourceKind, cmd kubectlCommand) string {
	switch {
	case !kind.namespaced:
		return ""
	case cmd.allNamespaces:
		return metav1.NamespaceAll
	case cmd.namespace != "":
		return cmd.namespace
	default:
		return t.defaultNamespace
	}
}

func (t *KubectlTool) get(ctx context.Context, cmd kubectlCommand) (string, error) {
	if cmd.resource == "" {
		return "", fmt.Errorf("get requires a resource type")
	}
	kind, err := lookupResource(cmd.resource)
	if err != nil {
		return "", err
	}
	switch cmd.output {
	case "", "wide", "json", "yaml":
	default:
		return "", fmt.Errorf("unsupported output format %q: use json or yaml", cmd.output)
	}
	ns := t.namespace(kind, cmd)

	if cmd.name != "" {
		obj, err := kind.get(ctx, t.client, ns, cmd.name)
		if err != nil {
			return "", fmt.Errorf("failed to get %s %q: %w", kind.kind, cmd.name, err)
		}
		if cmd.output == "json" || cmd.output == "yaml" {
			return render(obj, cmd.output)
		}
		return table(kind, []runtime.Object{obj}, false), nil
	}

	list, err := kind.list(ctx, t.client, ns, metav1.ListOptions{LabelSelector: cmd.selector})
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", kind.aliases[0], err)
	}
	if cmd.output == "json" || cmd.output == "yaml" {
		return render(list, cmd.output)
	}
	items, err := meta.ExtractList(list)
	if err != nil {
		return "", fmt.Errorf("failed to read %s list: %w", kind.kind, err)
	}
	if len(items) == 0 {
		if kind.namespaced && !cmd.allNamespaces {
			return fmt.Sprintf("No resources found in %s namespace.", ns), nil
		}
		return "No resources found.", nil
	}
	return table(kind, items, kind.namespaced && cmd.allNamespaces), nil
}

func (t *KubectlTool) describe(ctx context.Context, cmd kubectlCommand) (string, error) {
	if cmd.resource == "" || cmd.name == "" {
		return "", fmt.Errorf("describe requires a resource type and name")
	}
	kind, err := lookupResource(cmd.resource)
	if err != nil {
		return "", err
	}
	ns := t.namespace(kind, cmd)
	obj, err := kind.get(ctx, t.client, ns, cmd.name)
	if err != nil {
		return "", fmt.Errorf("failed to get %s %q: %w", kind.kind, cmd.name, err)
	}
	body, err := render(obj, "yaml")
	if err != nil {
		return "", err
	}
	if kind == &eventKind {
		return body, nil
	}
	events, err := objectEvents(ctx, t.client, ns, kind.kind, cmd.name)
	if err != nil {
		return "", err
	}
	return body + "\nEvents:\n" + events, nil
}

func (t *KubectlTool) logs(ctx context.Context, cmd kubectlCommand) (string, error) {
	if cmd.name == "" {
		return "", fmt.Errorf("logs requires a pod name")
	}
	ns := t.namespace(&podKind, cmd)
	if cmd.allNamespaces {
		ns = t.defaultNamespace
	}
	return podLogs(ctx, t.client, ns, cmd.name, cmd)
}

// parseCommand splits a kubectl command line into verb, resource, name and
// the supported flags.
func parseCommand(line string) (kubectlCommand, error) {
	fields := strings.Fields(line)
	if len(fields) > 0 && fields[0] == "kubectl" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return kubectlCommand{}, fmt.Errorf("command is required")
	}

	var (
		cmd        kubectlCommand
		positional []string
		flagErr    error
	)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if !strings.HasPrefix(f, "-") || f == "-" {
			positional = append(positional, f)
			continue
		}

		var name, value string
		var hasValue bool
		if strings.HasPrefix(f, "--") {
			name, value, hasValue = strings.Cut(f, "=")
		} else {
			name = f[:2]
			if len(f) > 2 {
				value, hasValue = strings.TrimPrefix(f[2:], "="), true
			}
		}
		next := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(fields) {
				return "", fmt.Errorf("flag %s needs a value", name)
			}
			i++
			return fields[i], nil
		}

		var err error
		switch name {
		case "-n", "--namespace":
			cmd.namespace, err = next()
		case "-A", "--all-namespaces":
			cmd.allNamespaces = true
		case "-l", "--selector":
			cmd.selector, err = next()
		case "-o", "--output":
			cmd.output, err = next()
		case "-c", "--container":
			cmd.container, err = next()
		case "-p", "--previous":
			cmd.previous = true
		case "--tail":
			var v string
			if v, err = next(); err == nil {
				cmd.tail, err = strconv.ParseInt(v, 10, 64)
			}
		default:
			err = fmt.Errorf("unsupported flag")
		}
		if err != nil && flagErr == nil {
			flagErr = fmt.Errorf("invalid flag %s: %w", name, err)
		}
	}

	if len(positional) == 0 {
		return kubectlCommand{}, fmt.Errorf("command has no verb")
	}
	cmd.verb = strings.ToLower(positional[0])
	if mutatingVerbs[cmd.verb] {
		return kubectlCommand{}, fmt.Errorf("kubectl %s is not allowed: cluster access is read-only", cmd.verb)
	}
	if flagErr != nil {
		return kubectlCommand{}, flagErr
	}
	rest := positional[1:]

	if cmd.verb == "logs" || cmd.verb == "log" {
		cmd.resource = "pods"
		if len(rest) > 0 {
			cmd.name = rest[0]
			if kind, name, ok := strings.Cut(rest[0], "/"); ok {
				if k, err := lookupResource(kind); err != nil || k != &podKind {
					return kubectlCommand{}, fmt.Errorf("logs only supports pods, got %q", kind)
				}
				cmd.name = name
			}
		}
		return cmd, nil
	}

	if len(rest) > 0 {
		cmd.resource = rest[0]
		if kind, name, ok := strings.Cut(rest[0], "/"); ok {
			cmd.resource, cmd.name = kind, name
		}
	}
	if len(rest) > 1 && cmd.name == "" {
		cmd.name = rest[1]
	}
	if strings.Contains(cmd.resource, ",") {
		return kubectlCommand{}, fmt.Errorf("one resource type per command: %q", cmd.resource)
	}
	return cmd, nil
}

func table(kind *resourceKind, items []runtime.Object, withNamespace bool) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 3, ' ', 0)
	header := kind.columns
	if withNamespace {
		header = append([]string{"NAMESPACE"}, header...)
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, obj := range items {
		row := kind.row(obj)
		if withNamespace {
			ns := ""
			if acc, err := meta.Accessor(obj); err == nil {
				ns = acc.GetNamespace()
			}
			row = append([]string{ns}, row...)
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
	return b.String()
}

// render prints an object or list without managed fields.
func render(obj runtime.Object, format string) (string, error) {
	stripManagedFields(obj)
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal object: %w", err)
	}
	if format != "yaml" {
		return string(data), nil
	}
	out, err := yaml.JSONToYAML(data)
	if err != nil {
		return "", fmt.Errorf("failed to convert object to yaml: %w", err)
	}
	return string(out), nil
}

func stripManagedFields(obj runtime.Object) {
	if meta.IsListType(obj) {
		items, err := meta.ExtractList(obj)
		if err != nil {
			return
		}
		for _, item := range items {
			stripManagedFields(item)
		}
		return
	}
	if acc, err := meta.Accessor(obj); err == nil {
		acc.SetManagedFields(nil)
	}
}

func limitOutput(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + "\n... (output truncated)"
}

func age(ts metav1.Time) string {
	if ts.IsZero() {
		return "<unknown>"
	}
	return duration.HumanDuration(time.Since(ts.Time))
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
