package source

import (
	"bytes"
	"io"
	"os"

	"agentwatch/internal/event"
)

// ReadTail returns up to maxBytes from the end of a file, aligned to the
// first complete line when the read started mid-file. The bool reports
// whether bytes exist before the returned window.
func ReadTail(path string, maxBytes int64) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}

	size := info.Size()
	start := int64(0)
	truncated := false
	if size > maxBytes {
		start = size - maxBytes
		truncated = true
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, false, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, err
	}

	if truncated {
		// Drop the partial first line.
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		} else {
			data = nil
		}
	}

	return data, truncated, nil
}

// TailLines splits tail bytes into non-empty lines.
func TailLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// describeAction renders a short "what happened" string for an event, used
// as the last-action probe result and in cached session records.
func describeAction(ev event.NormalizedEvent) string {
	switch ev.Type {
	case event.TypeToolCall, event.TypeAgentSpawn:
		arg := stringInput(ev.ToolInput, "file_path")
		if arg == "" {
			arg = stringInput(ev.ToolInput, "command")
		}
		if arg == "" {
			arg = stringInput(ev.ToolInput, "path")
		}
		if arg == "" {
			return ev.ToolName
		}
		if len(arg) > 60 {
			arg = arg[:60]
		}
		return ev.ToolName + " " + arg
	case event.TypeUserMessage:
		return "user message"
	case event.TypeAssistantResponse:
		return "assistant response"
	case event.TypeThinking:
		return "thinking"
	case event.TypeError:
		return "error"
	default:
		return string(ev.Type)
	}
}

// lastActionFromLines walks tail lines newest-first through a line parser
// and reports the most recent meaningful action.
func lastActionFromLines(lines [][]byte, parse func(line []byte) []event.NormalizedEvent) string {
	for i := len(lines) - 1; i >= 0; i-- {
		events := parse(lines[i])
		for j := len(events) - 1; j >= 0; j-- {
			switch events[j].Type {
			case event.TypeToolCall, event.TypeAgentSpawn, event.TypeUserMessage,
				event.TypeAssistantResponse, event.TypeError:
				return describeAction(events[j])
			}
		}
	}
	return ""
}
