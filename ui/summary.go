package ui

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const summaryWidth = colName + colOutcome + 2

// Summary renders the console table printed after a run.
func Summary(r Report) string {
	var sb strings.Builder
	sum := r.Summary

	sb.WriteString(titleStyle.Render(" nvmequal "+r.Drive.DevicePath()) + "\n")
	info := []kv{
		{"Model", r.Drive.Model},
		{"Serial", r.Drive.Serial},
		{"Firmware", r.Drive.Firmware},
	}
	if r.Capacity > 0 {
		info = append(info, kv{"Capacity", humanize.IBytes(r.Capacity)})
	}
	if h := r.Health; h != nil {
		state := okStyle.Render("healthy")
		if !h.After.Healthy() {
			state = critStyle.Render("critical warning")
		}
		info = append(info, kv{"Health", fmt.Sprintf("%s, %d C, %s written", state, h.After.TemperatureC(), humanize.Bytes(h.Written()))})
	}
	if sum != nil && sum.RunID != "" {
		info = append(info, kv{"Run", sum.RunID})
	}
	for _, item := range info {
		sb.WriteString(" " + styledPad(labelStyle.Render(item.Key), 10) + valueStyle.Render(item.Val) + "\n")
	}
	if sum == nil {
		return sb.String()
	}

	sb.WriteString(boxTop(summaryWidth) + "\n")
	sb.WriteString(boxRow(styledPad(headerStyle.Render("TEST"), colName+2)+headerStyle.Render("RESULT"), summaryWidth) + "\n")
	sb.WriteString(boxMid(summaryWidth) + "\n")
	for _, e := range sum.Entries {
		name := e.Name
		if len(name) > colName {
			name = name[:colName-1] + "~"
		}
		row := styledPad(valueStyle.Render(name), colName+2) + outcomeStyle(e.Outcome).Render(e.Outcome.String())
		sb.WriteString(boxRow(row, summaryWidth) + "\n")
	}
	sb.WriteString(boxBot(summaryWidth) + "\n")

	counts := fmt.Sprintf(" executed %d  %s  %s  %s",
		sum.Executed(),
		okStyle.Render(fmt.Sprintf("passed %d", sum.Passed)),
		critStyle.Render(fmt.Sprintf("failed %d", sum.Failed)),
		dimStyle.Render(fmt.Sprintf("ignored %d", sum.Ignored)))
	sb.WriteString(counts + "\n")
	if !sum.Started.IsZero() && !sum.Finished.IsZero() {
		sb.WriteString(" " + labelStyle.Render("took ") +
			valueStyle.Render(strings.TrimSpace(humanize.RelTime(sum.Started, sum.Finished, "", ""))) + "\n")
	}
	if sum.Aborted != nil {
		sb.WriteString(" " + warnStyle.Render("run aborted: "+sum.Aborted.Error()) + "\n")
	}
	return sb.String()
}
