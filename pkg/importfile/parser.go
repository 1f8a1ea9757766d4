// Package importfile parses dataset upload files.
//
// An upload is JSON Lines: one object per line in the chat fine-tuning
// shape. Each line becomes one dataset entry.
//
//	{"messages": [...], "tools": [...], "output": {...}, "split": "TEST", "persistent_id": "abc"}
//
// Only messages is required. When output is absent and the last message is
// from the assistant, that message becomes the output.
package importfile

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/evalkit-dev/evalkit-engine/pkg/jsonutil"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

// Limits bounds what a single file may contain. Zero means unlimited.
type Limits struct {
	MaxLineBytes int
	MaxEntries   int
}

// Record is one parsed line.
type Record struct {
	Line         int
	PersistentID string
	Input        json.RawMessage // {"messages": [...], "tools": [...]}
	Output       json.RawMessage // nil when the line has no output
	Split        models.Split
}

// LineError reports the 1-based line that made the file invalid.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// ErrNoEntries is returned for a file without a single non-blank line.
var ErrNoEntries = errors.New("file contains no entries")

// ErrTooManyEntries is returned once a file exceeds Limits.MaxEntries.
var ErrTooManyEntries = errors.New("too many entries")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const maxPersistentIDLen = 255

// line is the raw shape of one JSONL object.
type line struct {
	Messages     json.RawMessage `json:"messages"`
	Tools        json.RawMessage `json:"tools"`
	Output       json.RawMessage `json:"output"`
	Split        *string         `json:"split"`
	PersistentID json.RawMessage `json:"persistent_id"`
}

type message struct {
	Role string `json:"role"`
}

// Parse reads every record from r. Blank lines are skipped; any malformed
// line fails the whole file with a *LineError.
func Parse(r io.Reader, limits Limits) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	maxLine := limits.MaxLineBytes
	if maxLine <= 0 {
		maxLine = 64 * 1024 * 1024
	}
	scanner.Buffer(make([]byte, 0, min(maxLine, 64*1024)), maxLine)

	var records []Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if lineNo == 1 {
			raw = bytes.TrimPrefix(raw, utf8BOM)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		if limits.MaxEntries > 0 && len(records) >= limits.MaxEntries {
			return nil, &LineError{Line: lineNo, Err: fmt.Errorf("%w: limit is %d", ErrTooManyEntries, limits.MaxEntries)}
		}

		rec, err := parseLine(raw)
		if err != nil {
			return nil, &LineError{Line: lineNo, Err: err}
		}
		rec.Line = lineNo
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &LineError{Line: lineNo + 1, Err: fmt.Errorf("line exceeds %d bytes", maxLine)}
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(records) == 0 {
		return nil, ErrNoEntries
	}
	return records, nil
}

func parseLine(raw []byte) (Record, error) {
	if raw[0] != '{' {
		return Record{}, errors.New("expected a JSON object")
	}

	var l line
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&l); err != nil {
		return Record{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return Record{}, errors.New("unexpected data after JSON object")
	}

	messages, err := decodeArray(l.Messages, "messages", true)
	if err != nil {
		return Record{}, err
	}
	if len(messages) == 0 {
		return Record{}, errors.New("messages must not be empty")
	}
	for i, m := range messages {
		var msg message
		if err := json.Unmarshal(m, &msg); err != nil || msg.Role == "" {
			return Record{}, fmt.Errorf("messages[%d] must be an object with a role", i)
		}
	}

	tools, err := decodeArray(l.Tools, "tools", false)
	if err != nil {
		return Record{}, err
	}

	output := l.Output
	if isNull(output) {
		output = nil
	}
	if output != nil && bytes.TrimSpace(output)[0] != '{' {
		return Record{}, errors.New("output must be an object")
	}
	if output == nil {
		var last message
		_ = json.Unmarshal(messages[len(messages)-1], &last)
		if last.Role == "assistant" && len(messages) > 1 {
			output = messages[len(messages)-1]
			messages = messages[:len(messages)-1]
		}
	}

	split := models.SplitTrain
	if l.Split != nil {
		split = models.Split(strings.ToUpper(strings.TrimSpace(*l.Split)))
		if !models.IsValidSplit(split) {
			return Record{}, fmt.Errorf("split must be TRAIN or TEST, got %q", *l.Split)
		}
	}

	input, err := canonicalInput(messages, tools)
	if err != nil {
		return Record{}, err
	}
	if output != nil {
		if output, err = canonicalize(output); err != nil {
			return Record{}, fmt.Errorf("invalid output: %w", err)
		}
	}

	persistentID, hasID, err := jsonutil.FlexibleString(l.PersistentID)
	if err != nil {
		return Record{}, fmt.Errorf("invalid persistent_id: %w", err)
	}
	if hasID {
		persistentID = strings.TrimSpace(persistentID)
		if persistentID == "" {
			return Record{}, errors.New("persistent_id must not be empty")
		}
		if len(persistentID) > maxPersistentIDLen {
			return Record{}, fmt.Errorf("persistent_id exceeds %d characters", maxPersistentIDLen)
		}
	} else {
		sum := sha256.Sum256(input)
		persistentID = hex.EncodeToString(sum[:])
	}

	return Record{
		PersistentID: persistentID,
		Input:        input,
		Output:       output,
		Split:        split,
	}, nil
}

func decodeArray(raw json.RawMessage, field string, required bool) ([]json.RawMessage, error) {
	if isNull(raw) {
		if required {
			return nil, fmt.Errorf("%s is required", field)
		}
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%s must be an array", field)
	}
	return items, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// canonicalInput renders the entry input with sorted keys and no
// insignificant whitespace so equal inputs hash equally.
func canonicalInput(messages, tools []json.RawMessage) (json.RawMessage, error) {
	in := map[string]any{"messages": messages}
	if len(tools) > 0 {
		in["tools"] = tools
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}
	return canonicalize(body)
}

func canonicalize(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
