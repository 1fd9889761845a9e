package export

import (
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/polishcitizenship/portal-core/internal/model"
)

// Workbook sheet names.
const (
	SheetSummary  = "Summary"
	SheetFields   = "Fields"
	SheetWarnings = "Warnings"
	SheetChecks   = "Checks"
)

// BuildWorkbook renders payloads into a workbook with one sheet per section.
// Rows keep payload order so a batch diffs cleanly between runs.
func BuildWorkbook(payloads []model.ExportPayload) (*xlsx.File, error) {
	f := xlsx.NewFile()

	summary, err := addSheet(f, SheetSummary, "Case ID", "Client Ref", "State", "Schema", "Submittable", "Warnings", "Generated At")
	if err != nil {
		return nil, err
	}
	fields, err := addSheet(f, SheetFields, "Case ID", "Key", "Value")
	if err != nil {
		return nil, err
	}
	warnings, err := addSheet(f, SheetWarnings, "Case ID", "Warning")
	if err != nil {
		return nil, err
	}
	checkSheet, err := addSheet(f, SheetChecks, "Case ID", "Rule", "Severity", "Passed", "Message")
	if err != nil {
		return nil, err
	}

	for _, p := range payloads {
		id := p.Meta.CaseID
		addRow(summary, id, p.Meta.ClientRef, string(p.Meta.State), p.Meta.SchemaVersion,
			strconv.FormatBool(p.Submittable), strconv.Itoa(len(p.Warnings)), p.GeneratedAt.Format(time.RFC3339))
		for _, fl := range p.CaseSnapshot {
			addRow(fields, id, fl.Key, fl.Value)
		}
		for _, w := range p.Warnings {
			addRow(warnings, id, w)
		}
		for _, ch := range p.Checks {
			addRow(checkSheet, id, ch.Rule, string(ch.Severity), strconv.FormatBool(ch.Passed), ch.Message)
		}
	}
	return f, nil
}

// WriteWorkbook renders payloads as .xlsx to w.
func WriteWorkbook(w io.Writer, payloads []model.ExportPayload) error {
	f, err := BuildWorkbook(payloads)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

// SaveWorkbook renders payloads as .xlsx to path.
func SaveWorkbook(path string, payloads []model.ExportPayload) error {
	f, err := BuildWorkbook(payloads)
	if err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "export: save workbook %s", path)
}

func addSheet(f *xlsx.File, name string, header ...string) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	addRow(sheet, header...)
	return sheet, nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
