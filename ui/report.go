package ui

import (
	"io"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/dustin/go-humanize"

	"github.com/ftahirops/nvmequal/engine"
	"github.com/ftahirops/nvmequal/model"
)

// Report is everything the text report shows about one run.
type Report struct {
	Date     time.Time
	Drive    model.DriveIdentity
	Capacity uint64 // bytes; omitted when zero
	Health   *Health
	Summary  *engine.Summary
}

const reportTemplate = `{{ define "rule" }}{{ repeat 80 "-" }}{{ end -}}
NVMe Disk Tester
Date Run: {{ .Date | date "2006_01_02-03:04:05_PM" }}
Run ID: {{ .Summary.RunID }}
Drive Path: {{ .Drive.DevicePath }}
Model: {{ .Drive.Model }}
Serial Num: {{ .Drive.Serial }}
Firmware Level: {{ .Drive.Firmware }}
{{- if .Capacity }}
Capacity: {{ .Capacity | ibytes }}
{{- end }}
{{- with .Health }}

Drive Health:
  Temperature: {{ .After.TemperatureC }} C
  Healthy: {{ .After.Healthy | toString | title }}
  Percent Used: {{ .After.PercentUsed }}%
  Data Read During Run: {{ .Read | sibytes }}
  Data Written During Run: {{ .Written | sibytes }}
  Media Errors During Run: {{ .MediaErrors }}
{{- end }}

Tests Executed: {{ .Summary.Executed }}
Tests Passed: {{ .Summary.Passed }}
Tests Failed: {{ .Summary.Failed }}
Tests Ignored: {{ .Summary.Ignored }}
{{- with .Summary.Aborted }}
Run Aborted: {{ . }}
{{- end }}

{{ range .Summary.Entries -}}
{{ template "rule" }}
{{ template "rule" }}
Test: {{ .Name }}
Description: {{ .Description }}
{{ if not .Outcome.Executed -}}
Test Skipped
{{ else -}}
Test Passed: {{ eq .Outcome.String "PASSED" | toString | title }}
{{ template "rule" }}
Test Logs:
{{ .Log | trimSuffix "\n" }}
{{ template "rule" }}
{{ end -}}
{{ end -}}
`

var report = template.Must(template.New("report").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"ibytes": humanize.IBytes, "sibytes": humanize.Bytes}).
	Parse(reportTemplate))

// RenderReport writes the plain text qualification report.
func RenderReport(w io.Writer, r Report) error {
	if r.Summary == nil {
		r.Summary = &engine.Summary{}
	}
	return report.Execute(w, r)
}
