// Package report exports a run's findings as a SARIF 2.1.0 document, the
// interchange format most code scanning UIs ingest.
package report

import (
	"fmt"
	"os"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"basegraph.app/auditor/internal/dedup"
	"basegraph.app/auditor/internal/model"
)

const (
	toolName = "auditor"
	toolURI  = "https://basegraph.app/auditor"
)

// WriteSARIF writes the run's deduplicated findings to path. Rules are
// keyed by fingerprint, so a SARIF consumer dedupes the same way the
// tracker sync does.
func WriteSARIF(path string, entries []dedup.Entry) error {
	doc, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("creating sarif document: %w", err)
	}

	run := sarif.NewRunWithInformationURI(toolName, toolURI)

	for _, entry := range entries {
		f := entry.Finding

		rule := run.AddRule(entry.Fingerprint).
			WithDescription(f.Title).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{
				Level: sarifLevel(f.Severity),
			})

		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.File)).
				WithRegion(sarif.NewRegion().
					WithStartLine(f.StartLine).
					WithEndLine(f.EndLine)),
		)

		result := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(f.Description)).
			WithLevel(sarifLevel(f.Severity)).
			WithLocations([]*sarif.Location{location})
		run.AddResult(result)
	}

	doc.AddRun(run)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating sarif file: %w", err)
	}
	defer file.Close()

	if err := doc.PrettyWrite(file); err != nil {
		return fmt.Errorf("writing sarif file: %w", err)
	}
	return nil
}

func sarifLevel(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "error"
	case model.SeverityWarning:
		return "warning"
	default:
		return "note"
	}
}
