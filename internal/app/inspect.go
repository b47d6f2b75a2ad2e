package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ben-ranford/wpfatal/internal/ecosystem"
	"github.com/ben-ranford/wpfatal/internal/exceptions"
	"github.com/ben-ranford/wpfatal/internal/report"
	"github.com/ben-ranford/wpfatal/internal/workspace"
)

type ecosystemsOutput struct {
	PluginRoot string               `json:"pluginRoot"`
	Ecosystems []string             `json:"ecosystems"`
	Forced     []string             `json:"forced,omitempty"`
	Evidence   []ecosystem.Evidence `json:"evidence"`
}

func (a *App) executeEcosystems(ctx context.Context, req Request) (string, error) {
	target, err := workspace.Resolve(req.Path)
	if err != nil {
		return "", err
	}
	values, _, err := resolveValues(req)
	if err != nil {
		return "", err
	}
	result, err := ecosystem.NewDetector().WithMaxScanFiles(values.MaxEcosystemScanFiles).DetectWithEvidence(ctx, target.Root)
	if err != nil {
		return "", fmt.Errorf("detect ecosystems: %w", err)
	}

	output := ecosystemsOutput{
		PluginRoot: target.Root,
		Ecosystems: result.Ecosystems.Sorted(),
		Forced:     ecosystem.NewSet(values.ForceEcosystems...).Sorted(),
		Evidence:   result.Evidence,
	}
	if output.Evidence == nil {
		output.Evidence = []ecosystem.Evidence{}
	}
	if req.Format == report.FormatJSON {
		return marshalIndent(output)
	}
	return formatEcosystems(output), nil
}

func formatEcosystems(output ecosystemsOutput) string {
	var buffer bytes.Buffer
	fmt.Fprintf(&buffer, "Plugin: %s\n", output.PluginRoot)
	if len(output.Ecosystems) == 0 {
		buffer.WriteString("No ecosystems detected.\n")
	} else {
		writer := tabwriter.NewWriter(&buffer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(writer, "ECOSYSTEM\tSOURCE\tEVIDENCE")
		for _, item := range output.Evidence {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", item.Ecosystem, item.Source, item.Detail)
		}
		_ = writer.Flush()
	}
	if len(output.Forced) > 0 {
		fmt.Fprintf(&buffer, "Forced: %s\n", strings.Join(output.Forced, ", "))
	}
	return buffer.String()
}

func (a *App) widgetManager(req ExclusionsRequest) *exceptions.WidgetManager {
	manager := exceptions.LoadWidgetManager(req.ConfigPath)
	if req.ReportingMode != "" {
		manager = manager.WithMode(req.ReportingMode)
	}
	return manager
}

func (a *App) executeExclusionsStats(req Request) (string, error) {
	manager := a.widgetManager(req.Exclusions)
	stats := manager.Stats()
	if req.Format == report.FormatJSON {
		return marshalIndent(struct {
			ReportingMode exceptions.Mode `json:"reporting_mode"`
			exceptions.Stats
		}{ReportingMode: manager.Mode(), Stats: stats})
	}

	var buffer bytes.Buffer
	writer := tabwriter.NewWriter(&buffer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "Reporting mode:\t%s\n", manager.Mode())
	fmt.Fprintf(writer, "Ecosystems:\t%d\n", stats.TotalEcosystems)
	fmt.Fprintf(writer, "Widgets:\t%d\n", stats.TotalWidgets)
	fmt.Fprintf(writer, "Excluded widgets:\t%d\n", stats.ExcludedWidgets)
	fmt.Fprintf(writer, "Temporary exclusions:\t%d\n", stats.TemporaryExclusions)
	fmt.Fprintf(writer, "Future-proof widgets:\t%d\n", stats.FutureProofWidgets)
	_ = writer.Flush()
	return buffer.String(), nil
}

// executeExclusionsExport prints the merged widget rules, or writes them to
// OutputPath when one is given.
func (a *App) executeExclusionsExport(req Request) (string, error) {
	manager := a.widgetManager(req.Exclusions)
	path := strings.TrimSpace(req.Exclusions.OutputPath)
	if path == "" {
		data, err := manager.Export(a.now())
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if err := manager.Save(path, a.now()); err != nil {
		return "", fmt.Errorf("write exclusion config: %w", err)
	}
	return "wrote exclusion config to " + path, nil
}

func marshalIndent(value any) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data) + "\n", nil
}
