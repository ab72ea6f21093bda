package artifact

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"
	"strings"

	"github.com/anibaldeboni/zero-paper/sensorhub/remote"
)

//go:embed templates/report.html
var reportPage string

//go:embed templates/combo.html
var comboPage string

//go:embed templates/status.html
var statusPage string

var (
	reportTmpl = template.Must(template.New("report").Parse(reportPage))
	statusTmpl = template.Must(template.New("status").Parse(statusPage))
)

// ReportKind is one of the sub-reports a combo report is built from.
type ReportKind string

const (
	ReportSystem        ReportKind = "System"
	ReportConfiguration ReportKind = "Configuration"
	ReportReadings      ReportKind = "SensorReadings"
	ReportLatency       ReportKind = "Latency"
)

// ReportKinds lists the sub-reports in combo order.
var ReportKinds = []ReportKind{ReportSystem, ReportConfiguration, ReportReadings, ReportLatency}

// ParseReportKind accepts a sub-report name, case-insensitively.
func ParseReportKind(s string) (ReportKind, error) {
	for _, k := range ReportKinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown report %q", s)
}

// Command is the remote command that feeds this report.
func (k ReportKind) Command() string {
	switch k {
	case ReportSystem:
		return remote.CmdGetSystemData
	case ReportConfiguration:
		return remote.CmdGetConfigurationReport
	case ReportReadings:
		return remote.CmdGetSensorReadings
	case ReportLatency:
		return remote.CmdGetSensorsLatency
	}
	return ""
}

// Title is the human heading of the report.
func (k ReportKind) Title() string {
	switch k {
	case ReportReadings:
		return "Sensor Readings"
	case ReportLatency:
		return "Sensor Latency"
	}
	return string(k)
}

func (k ReportKind) token() string {
	switch k {
	case ReportSystem:
		return "{{ FullSystemReport }}"
	case ReportConfiguration:
		return "{{ FullConfigurationReport }}"
	case ReportReadings:
		return "{{ FullReadingsReport }}"
	case ReportLatency:
		return "{{ FullLatencyReport }}"
	}
	return ""
}

type field struct {
	Key   string
	Value string
}

type stationSection struct {
	Address  string
	Hostname string
	Ok       bool
	Status   remote.Status
	Detail   string
	Fields   []field
	Text     string
}

// RenderReport renders one sub-report page from a dispatch of k.Command().
// JSON object payloads become key/value rows in key order; anything else is
// shown as preformatted text.
func RenderReport(k ReportKind, results []remote.Result) ([]byte, error) {
	data := struct {
		Title    string
		Stations []stationSection
	}{Title: k.Title()}

	for _, r := range results {
		sec := stationSection{
			Address:  r.Address.Raw(),
			Hostname: r.Hostname,
			Ok:       r.Completed(),
			Status:   r.Status,
			Detail:   r.Detail,
		}
		if sec.Ok {
			sec.Fields, sec.Text = payloadFields(r.Payload)
			for _, f := range sec.Fields {
				if f.Key == "hostname" && sec.Hostname == "" {
					sec.Hostname = f.Value
				}
			}
		}
		data.Stations = append(data.Stations, sec)
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s report: %w", k, err)
	}
	return buf.Bytes(), nil
}

func payloadFields(payload []byte) ([]field, string) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, strings.TrimSpace(string(payload))
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, field{Key: k, Value: formatValue(obj[k])})
	}
	return fields, ""
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

const (
	sectionBegin = `<section class="report">`
	sectionEnd   = "</section>"
)

// RewriteLinks makes a rendered sub-report self-contained: the link back to
// the manage page becomes a plain report heading.
func RewriteLinks(doc []byte, k ReportKind) []byte {
	r := strings.NewReplacer(
		"Back to Sensor Control", "Sensor Report - "+k.Title(),
		"/SensorControlManage", "",
	)
	return []byte(r.Replace(string(doc)))
}

// section returns the report section of a rendered sub-report, or the whole
// document when it has none.
func section(doc []byte) string {
	s := string(doc)
	i := strings.Index(s, sectionBegin)
	j := strings.LastIndex(s, sectionEnd)
	if i < 0 || j < i {
		return s
	}
	return s[i : j+len(sectionEnd)]
}

// Combine splices the given sub-reports into the combo template. Sub-reports
// not present in fragments are replaced by nothing.
func Combine(fragments map[ReportKind][]byte) []byte {
	pairs := make([]string, 0, 2*len(ReportKinds))
	for _, k := range ReportKinds {
		content := ""
		if doc, ok := fragments[k]; ok {
			content = section(RewriteLinks(doc, k))
		}
		pairs = append(pairs, k.token(), content)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(comboPage))
}

type statusRow struct {
	Address  string
	Hostname string
	Elapsed  string
	Status   remote.Status
	Colour   template.CSS
}

// RenderStatus renders the online-status table for a status check.
func RenderStatus(results []remote.Result) ([]byte, error) {
	rows := make([]statusRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, statusRow{
			Address:  r.Address.Raw(),
			Hostname: r.Hostname,
			Elapsed:  r.ElapsedString(),
			Status:   r.Status,
			Colour:   template.CSS(ResponseColour(r)),
		})
	}

	var buf bytes.Buffer
	if err := statusTmpl.Execute(&buf, rows); err != nil {
		return nil, fmt.Errorf("failed to render status report: %w", err)
	}
	return buf.Bytes(), nil
}

// ResponseColour shades a status row by how quickly the station answered.
func ResponseColour(r remote.Result) string {
	if !r.Completed() {
		return "#EF9A9A"
	}
	switch s := r.Elapsed.Seconds(); {
	case s < 0.5:
		return "#A5D6A7"
	case s < 1:
		return "#FFF59D"
	default:
		return "#FFCC80"
	}
}
