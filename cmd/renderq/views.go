package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"renderqueue/internal/api"
	"renderqueue/internal/deps"
	"renderqueue/internal/executor"
	"renderqueue/internal/lan"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var taskTable = tableSpec{
	headers: []string{"#", "Type", "File", "Args", "Elapsed"},
	aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
}

var failedTable = tableSpec{
	headers: []string{"#", "Type", "File", "Elapsed", "Exit", "Detail"},
	aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
}

var transferTable = tableSpec{
	headers: []string{"ID", "Direction", "Peer", "Name", "Size", "Status", "When"},
	aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
}

func buildTaskRows(items []api.TaskView) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.Itoa(item.Index),
			item.TypeName,
			item.File,
			extraArgs(item.Args),
			item.Elapsed,
		})
	}
	return rows
}

func buildFailedRows(items []api.TaskView) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		exit := ""
		if item.ExitCode != nil {
			exit = strconv.Itoa(int(*item.ExitCode))
		}
		rows = append(rows, []string{
			strconv.Itoa(item.Index),
			item.TypeName,
			item.File,
			item.Elapsed,
			exit,
			item.ExitDetail,
		})
	}
	return rows
}

func buildTransferRows(items []api.TransferView, now time.Time) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		status := item.Status
		if item.Error != "" {
			status = fmt.Sprintf("%s: %s", status, item.Error)
		}
		rows = append(rows, []string{
			shortID(item.ID),
			item.Direction,
			item.Peer,
			item.Name,
			item.SizeDisplay,
			status,
			relativeTime(item.StartedAt, now),
		})
	}
	return rows
}

func extraArgs(args []string) string {
	if len(args) <= 1 {
		return ""
	}
	return strings.Join(args[1:], " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// relativeTime renders an API timestamp as "3 minutes ago".
func relativeTime(value string, now time.Time) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return ""
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func currentTaskLine(status api.ExecutorStatus, now time.Time, colorize bool) string {
	current := status.Current
	if current == nil {
		kind := statusInfo
		if status.State == string(executor.StateStopped) {
			kind = statusWarn
		}
		return renderStatusLine("Current task", kind, "None ("+status.State+")", colorize)
	}
	detail := fmt.Sprintf("%s %s", current.TypeName, current.File)
	if status.State == string(executor.StateRunning) {
		detail += fmt.Sprintf(" (running %s", current.Elapsed)
		if started := relativeTime(status.StartedAt, now); started != "" {
			detail += ", started " + started
		}
		detail += ")"
		return renderStatusLine("Current task", statusOK, detail, colorize)
	}
	detail += fmt.Sprintf(" (interrupted after %s, resumes on start)", current.Elapsed)
	return renderStatusLine("Current task", statusWarn, detail, colorize)
}

func lanStatusLine(status api.LANStatus, now time.Time, colorize bool) string {
	if status.Role == "" || status.Role == string(lan.RoleNone) {
		return renderStatusLine("LAN", statusInfo, "Not connected", colorize)
	}
	parts := []string{status.Role}
	if status.Address != "" {
		parts = append(parts, "on "+status.Address)
	}
	if status.Peer != "" {
		parts = append(parts, "peer "+status.Peer)
	}
	if since := relativeTime(status.Since, now); since != "" {
		parts = append(parts, "since "+since)
	}
	return renderStatusLine("LAN", statusOK, strings.Join(parts, ", "), colorize)
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses))
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Version != "" {
				message = fmt.Sprintf("Ready (%s)", dep.Version)
			} else if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func statusLines(status api.DaemonStatus, now time.Time, colorize bool) []string {
	daemonLine := renderStatusLine("Daemon", statusWarn, "Not running", colorize)
	if status.Running {
		daemonLine = renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize)
	}
	queued := "Empty"
	if status.QueueLength > 0 {
		queued = fmt.Sprintf("%s pending", humanize.Comma(int64(status.QueueLength)))
	}
	return []string{
		daemonLine,
		currentTaskLine(status.Executor, now, colorize),
		renderStatusLine("Queue", statusInfo, queued, colorize),
		lanStatusLine(status.LAN, now, colorize),
		renderStatusLine("Tasks launched", statusInfo, humanize.Comma(int64(status.Executor.Launched)), colorize),
	}
}
