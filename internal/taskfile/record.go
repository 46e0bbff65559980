package taskfile

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

func formatTask(t Task) (string, error) {
	args := t.Args
	if args == nil {
		args = []string{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args: %w", err)
	}
	return fmt.Sprintf("%s %s %s", t.Type, formatSeconds(t.Elapsed), payload), nil
}

func formatFailed(t FailedTask) (string, error) {
	line, err := formatTask(t.Task)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(t.ExitCode), 10) + " " + line, nil
}

func parseTask(line string) (Task, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return Task{}, fmt.Errorf("%w: expected 3 fields in %q", ErrMalformedRecord, line)
	}
	taskType := Type(parts[0])
	if !taskType.Valid() {
		return Task{}, fmt.Errorf("%w: unknown type %q", ErrMalformedRecord, parts[0])
	}
	elapsed, err := parseSeconds(parts[1])
	if err != nil {
		return Task{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	var args []string
	if err := json.Unmarshal([]byte(parts[2]), &args); err != nil {
		return Task{}, fmt.Errorf("%w: decode args: %v", ErrMalformedRecord, err)
	}
	return Task{Type: taskType, Args: args, Elapsed: elapsed}, nil
}

func parseFailed(line string) (FailedTask, error) {
	code, rest, ok := strings.Cut(line, " ")
	if !ok {
		return FailedTask{}, fmt.Errorf("%w: missing exit code in %q", ErrMalformedRecord, line)
	}
	exitCode, err := strconv.ParseInt(code, 10, 32)
	if err != nil {
		return FailedTask{}, fmt.Errorf("%w: exit code %q", ErrMalformedRecord, code)
	}
	task, err := parseTask(rest)
	if err != nil {
		return FailedTask{}, err
	}
	return FailedTask{Task: task, ExitCode: int32(exitCode)}, nil
}

func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func parseSeconds(value string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0, fmt.Errorf("invalid elapsed seconds %q", value)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
