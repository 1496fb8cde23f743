// Package commands implements the pimctl CLI commands.
package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatInstances renders instance summaries in the requested format.
func formatInstances(instances []pimapi.InstanceSummary, format string) (string, error) {
	if format == formatTable {
		return formatInstancesTable(instances, time.Now())
	}
	return formatStructured(instances, format)
}

// formatInstance renders a single instance in the requested format.
func formatInstance(inst *pimapi.InstanceDetail, format string) (string, error) {
	if format == formatTable {
		return formatInstanceDetail(inst, time.Now())
	}
	return formatStructured(inst, format)
}

// formatClassification renders a group classification in the requested format.
func formatClassification(resp *pimapi.ClassifyGroupResponse, format string) (string, error) {
	if format != formatTable {
		return formatStructured(resp, format)
	}

	mode := "ASM"
	if resp.SSM {
		mode = "SSM"
	}
	label := resp.Range
	if label == "" {
		label = "default"
	}
	return fmt.Sprintf("%s is %s (range %s)\n", resp.Group, mode, label), nil
}

// --- Table formatters ---

func formatInstancesTable(instances []pimapi.InstanceSummary, now time.Time) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VRF\tSTATE\tVRF-ID\tTABLE\tAGE")

	for _, inst := range instances {
		id, table := valueNA, valueNA
		if inst.Bound {
			id = fmt.Sprint(inst.VRFID)
			table = fmt.Sprint(inst.Table)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			inst.Name,
			inst.State,
			id,
			table,
			age(inst.Created, now),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatInstanceDetail(inst *pimapi.InstanceDetail, now time.Time) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "VRF:\t%s\n", inst.Name)
	fmt.Fprintf(w, "State:\t%s\n", inst.State)
	if inst.Bound {
		fmt.Fprintf(w, "VRF ID:\t%d\n", inst.VRFID)
		fmt.Fprintf(w, "Table:\t%d\n", inst.Table)
	} else {
		fmt.Fprintf(w, "VRF ID:\t%s\n", valueNA)
	}
	fmt.Fprintf(w, "Family:\t%s\n", inst.Family)
	fmt.Fprintf(w, "Age:\t%s\n", age(inst.Created, now))

	ssmRange := inst.SSMRange
	if ssmRange == "" {
		ssmRange = "default"
	}
	fmt.Fprintf(w, "SSM Range:\t%s\n", ssmRange)
	fmt.Fprintf(w, "Keep-Alive Timer:\t%s\n", inst.KeepAlive)
	fmt.Fprintf(w, "RP Keep-Alive Timer:\t%s\n", inst.RPKeepAlive)
	fmt.Fprintf(w, "SPT Switchover:\t%s\n", inst.SPTSwitchover)
	fmt.Fprintf(w, "ECMP:\t%s\n", ecmpMode(inst.ECMP, inst.ECMPRebalance))
	fmt.Fprintf(w, "Send v6 Secondary:\t%t\n", inst.SendV6Secondary)
	fmt.Fprintf(w, "RPF Cache Entries:\t%d\n", inst.RPFEntries)

	if len(inst.Interfaces) > 0 {
		fmt.Fprintf(w, "Interfaces:\t%s\n", strings.Join(inst.Interfaces, ", "))
	}
	for _, s := range inst.SSMPing {
		status := "stopped"
		if s.Running {
			status = "running"
		}
		fmt.Fprintf(w, "SSM Ping:\t%s %s, %d requests\n", s.Source, status, s.Requests)
	}
	for _, p := range inst.MSDPPeers {
		fmt.Fprintf(w, "MSDP Peer:\t%s source %s, %s (%s), up %s\n",
			p.Peer, p.Source, p.State, p.Role, p.Uptime.Truncate(time.Second))
	}
	for _, r := range inst.StaticRoutes {
		fmt.Fprintf(w, "Static Route:\t%s\n", r)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func ecmpMode(ecmp, rebalance bool) string {
	switch {
	case rebalance:
		return "rebalance"
	case ecmp:
		return "on"
	default:
		return "off"
	}
}

func age(created, now time.Time) string {
	if created.IsZero() {
		return valueNA
	}
	return now.Sub(created).Truncate(time.Second).String()
}

// --- Structured formatters ---

// formatStructured renders v as indented JSON or as YAML. YAML keys and
// their order follow the JSON encoding.
func formatStructured(v any, format string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}

	switch format {
	case formatJSON:
		return string(data) + "\n", nil
	case formatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return "", fmt.Errorf("convert to yaml: %w", err)
		}
		clearStyle(&node)

		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(&node); err != nil {
			return "", fmt.Errorf("marshal yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return "", fmt.Errorf("marshal yaml: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// clearStyle drops the flow and quoting styles inherited from JSON input.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
