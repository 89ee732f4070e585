package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Subprocess runs a local agent binary: stdin carries the JSON Request,
// stdout streams NDJSON messages one per line. Non-JSON lines are folded
// into the final text so plain-printing agents still work.
type Subprocess struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 = context only
}

func (r Subprocess) Name() string { return "subprocess" }

func (r Subprocess) Execute(ctx context.Context, req Request, emit func(Message)) (Result, error) {
	if r.Command == "" {
		return Result{}, errors.New("subprocess command is required")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	cmd.Dir = req.WorkDir
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}
	defer func() {
		if ctx.Err() != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err := cmd.Wait(); err != nil {
			slog.Warn("agent subprocess exited with error", "err", err)
		}
	}()

	var (
		final strings.Builder
		calls []ToolCall
		lines int
	)
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines++
		if !gjson.Valid(line) {
			final.WriteString(line)
			final.WriteString("\n")
			continue
		}
		msg := parseMessage(line)
		switch msg.Type {
		case "tool_use":
			calls = append(calls, ToolCall{Tool: msg.Tool, Input: msg.Input})
		case "result", "text":
			if msg.Text != "" {
				final.WriteString(msg.Text)
				final.WriteString("\n")
			}
		}
		if emit != nil {
			emit(msg)
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	if ctx.Err() != nil || lines == 0 {
		// Timeout or a silent exit: infrastructure fault, not an agent answer.
		return Result{}, &StallError{Cause: ctx.Err()}
	}
	return Result{FinalText: strings.TrimSpace(final.String()), ToolCalls: calls}, nil
}

func parseMessage(line string) Message {
	msg := Message{
		Type:      gjson.Get(line, "type").String(),
		Text:      gjson.Get(line, "text").String(),
		Tool:      gjson.Get(line, "tool").String(),
		Input:     gjson.Get(line, "input").String(),
		Timestamp: time.Now().UTC(),
	}
	if ts := gjson.Get(line, "timestamp").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.Timestamp = t
		}
	}
	if data := gjson.Get(line, "data"); data.IsObject() {
		msg.Data = map[string]any{}
		data.ForEach(func(k, v gjson.Result) bool {
			msg.Data[k.String()] = v.Value()
			return true
		})
	}
	return msg
}
