// Package chart validates chart descriptors produced by the analyzer before
// they are handed to an external renderer.
//
// A descriptor names a record set and the keys to plot from it. The renderer
// trusts the descriptor, so every key it references must exist in every
// record; descriptors are validated one at a time and an invalid one never
// prevents the rest of a batch from being accepted.
package chart

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Kind is the chart type tag understood by the renderer.
type Kind string

const (
	KindBar  Kind = "BarChart"
	KindLine Kind = "LineChart"
)

// Label returns the singular human-readable name of the kind.
func (k Kind) Label() string {
	switch k {
	case KindBar:
		return "bar chart"
	case KindLine:
		return "line chart"
	default:
		return "chart"
	}
}

// Descriptor is the outbound chart description.
type Descriptor struct {
	Data  []map[string]any `json:"rechart_data"`
	Kind  Kind             `json:"rechart_type"`
	XKey  string           `json:"x_axis_key"`
	YKeys []string         `json:"y_axis_keys"`
	Unit  string           `json:"unit,omitempty"`
	// Scale is applied by the renderer to raw values; nil means 1.0.
	Scale *float64 `json:"scaler,omitempty"`
	Title string   `json:"chart_title,omitempty"`
}

// ScaleFactor returns the renderer multiplier, defaulting to 1.
func (d Descriptor) ScaleFactor() float64 {
	if d.Scale == nil {
		return 1.0
	}
	return *d.Scale
}

// Check verifies the key invariant: the x key and every y key are fields of
// every record.
func (d Descriptor) Check() error {
	if d.Kind != KindBar && d.Kind != KindLine {
		return fmt.Errorf("unsupported chart type %q", d.Kind)
	}
	if d.XKey == "" {
		return fmt.Errorf("x_axis_key is empty")
	}
	if len(d.YKeys) == 0 {
		return fmt.Errorf("y_axis_keys is empty")
	}
	if len(d.Data) == 0 {
		return fmt.Errorf("rechart_data has no records")
	}
	for i, rec := range d.Data {
		if _, ok := rec[d.XKey]; !ok {
			return fmt.Errorf("record %d is missing x_axis_key %q", i, d.XKey)
		}
		for _, y := range d.YKeys {
			if _, ok := rec[y]; !ok {
				return fmt.Errorf("record %d is missing y_axis_key %q", i, y)
			}
		}
	}
	return nil
}

const descriptorSchema = `{
	"type": "object",
	"properties": {
		"rechart_data": {"type": "array", "items": {"type": "object"}},
		"rechart_type": {"type": "string", "enum": ["BarChart", "LineChart"]},
		"x_axis_key": {"type": "string"},
		"y_axis_keys": {"type": "array", "items": {"type": "string"}},
		"unit": {"type": "string"},
		"scaler": {"type": "number"},
		"chart_title": {"type": "string"}
	},
	"required": ["rechart_data", "rechart_type", "x_axis_key", "y_axis_keys"]
}`

// ToolSchema is the argument schema of the chart rendering capability. It
// only constrains the envelope: descriptors are checked one by one by
// Validate so a bad chart does not sink the rest of the batch.
const ToolSchema = `{
	"type": "object",
	"properties": {
		"charts": {
			"type": "array",
			"description": "Charts to render. Each chart plots y_axis_keys against x_axis_key over rechart_data.",
			"items": {
				"type": "object",
				"properties": {
					"rechart_data": {"description": "Array of records; every record holds x_axis_key and all y_axis_keys."},
					"rechart_type": {"description": "BarChart or LineChart."},
					"x_axis_key": {"description": "Record field plotted on the x axis."},
					"y_axis_keys": {"description": "Record fields plotted as series."},
					"unit": {"description": "Unit label of the values."},
					"scaler": {"description": "Multiplier the renderer applies to values, default 1.0."},
					"chart_title": {"description": "Chart title."}
				}
			}
		}
	},
	"required": ["charts"]
}`

var compiledDescriptorSchema = mustSchema(descriptorSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("chart: invalid descriptor schema: %v", err))
	}
	return schema
}

// Rejection records why a descriptor of a batch was refused.
type Rejection struct {
	Index  int    `json:"index"`
	Title  string `json:"title,omitempty"`
	Reason string `json:"reason"`
}

// Report partitions a batch into accepted and rejected descriptors.
type Report struct {
	Accepted []Descriptor `json:"accepted"`
	Rejected []Rejection  `json:"rejected"`
}

// Parse extracts the raw descriptors from chart tool arguments of the form
// {"charts": [...]}. Only the envelope is checked here.
func Parse(args string) ([]json.RawMessage, error) {
	var envelope struct {
		Charts []json.RawMessage `json:"charts"`
	}
	if err := json.Unmarshal([]byte(args), &envelope); err != nil {
		return nil, fmt.Errorf("invalid chart arguments: %w", err)
	}
	return envelope.Charts, nil
}

// Validate checks each raw descriptor against the descriptor schema and the
// key invariant. The result depends only on the input.
func Validate(raw []json.RawMessage) Report {
	var report Report
	for i, r := range raw {
		d, err := validateOne(r)
		if err != nil {
			report.Rejected = append(report.Rejected, Rejection{Index: i, Title: d.Title, Reason: err.Error()})
			continue
		}
		report.Accepted = append(report.Accepted, d)
	}
	return report
}

// ValidateArgs is Parse followed by Validate.
func ValidateArgs(args string) (Report, error) {
	raw, err := Parse(args)
	if err != nil {
		return Report{}, err
	}
	return Validate(raw), nil
}

func validateOne(raw json.RawMessage) (Descriptor, error) {
	var d Descriptor
	res, err := compiledDescriptorSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return d, fmt.Errorf("malformed descriptor: %w", err)
	}
	if !res.Valid() {
		_ = json.Unmarshal(raw, &d)
		reasons := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			reasons = append(reasons, e.String())
		}
		return d, fmt.Errorf("%s", strings.Join(reasons, "; "))
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("malformed descriptor: %w", err)
	}
	return d, d.Check()
}

// Status is the text returned to the model for a validated batch.
func (r Report) Status() string {
	if len(r.Accepted) == 0 {
		if len(r.Rejected) == 0 {
			return "Error: no charts provided"
		}
		return "Error: no valid charts: " + r.rejectionText()
	}
	msg := fmt.Sprintf("Received %d chart(s) for rendering.", len(r.Accepted))
	if len(r.Rejected) > 0 {
		msg += " Rejected: " + r.rejectionText()
	}
	return msg
}

func (r Report) rejectionText() string {
	parts := make([]string, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		parts = append(parts, fmt.Sprintf("chart %d: %s", rej.Index, rej.Reason))
	}
	return strings.Join(parts, "; ")
}

// Summarize tallies accepted descriptors by kind in order of first
// appearance, e.g. "Generated 1 bar chart, 2 line charts".
func Summarize(accepted []Descriptor) string {
	if len(accepted) == 0 {
		return "No visualizations created"
	}
	var order []Kind
	counts := make(map[Kind]int)
	for _, d := range accepted {
		if counts[d.Kind] == 0 {
			order = append(order, d.Kind)
		}
		counts[d.Kind]++
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		n := counts[k]
		label := k.Label()
		if n != 1 {
			label += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, label))
	}
	return "Generated " + strings.Join(parts, ", ")
}
