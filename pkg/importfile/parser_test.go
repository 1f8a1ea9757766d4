package importfile

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

func TestParse_MinimalLine(t *testing.T) {
	input := `{"messages":[{"role":"user","content":"hi"}]}`

	records, err := Parse(strings.NewReader(input), Limits{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 1, rec.Line)
	assert.Equal(t, models.SplitTrain, rec.Split)
	assert.Nil(t, rec.Output)
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"hi"}]}`, string(rec.Input))
	assert.Len(t, rec.PersistentID, 64, "expected a sha256 hex default id")
}

func TestParse_AllFields(t *testing.T) {
	input := `{"messages":[{"role":"system","content":"s"},{"role":"user","content":"u"}],` +
		`"tools":[{"type":"function","function":{"name":"f"}}],` +
		`"output":{"role":"assistant","content":"a"},"split":"test","persistent_id":" row-1 "}`

	records, err := Parse(strings.NewReader(input), Limits{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, models.SplitTest, rec.Split)
	assert.Equal(t, "row-1", rec.PersistentID)
	assert.JSONEq(t, `{"role":"assistant","content":"a"}`, string(rec.Output))
	assert.Contains(t, string(rec.Input), `"tools"`)
}

func TestParse_NumericPersistentID(t *testing.T) {
	input := `{"messages":[{"role":"user"}],"persistent_id":12345678901234567890}` + "\n" +
		`{"messages":[{"role":"user"}],"persistent_id":null}`

	records, err := Parse(strings.NewReader(input), Limits{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "12345678901234567890", records[0].PersistentID)
	assert.Len(t, records[1].PersistentID, 64, "null persistent_id falls back to the content hash")
}

func TestParse_TrailingAssistantBecomesOutput(t *testing.T) {
	input := `{"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]}`

	records, err := Parse(strings.NewReader(input), Limits{})
	require.NoError(t, err)

	assert.JSONEq(t, `{"role":"assistant","content":"a"}`, string(records[0].Output))
	assert.JSONEq(t, `{"messages":[{"role":"user","content":"q"}]}`, string(records[0].Input))
}

func TestParse_LoneAssistantMessageStaysInput(t *testing.T) {
	input := `{"messages":[{"role":"assistant","content":"a"}]}`

	records, err := Parse(strings.NewReader(input), Limits{})
	require.NoError(t, err)
	assert.Nil(t, records[0].Output)
}

func TestParse_DefaultPersistentIDIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := `{"messages":[{"role":"user","content":"hi"}]}`
	b := `{ "messages" : [ { "content" : "hi", "role" : "user" } ] }`

	ra, err := Parse(strings.NewReader(a), Limits{})
	require.NoError(t, err)
	rb, err := Parse(strings.NewReader(b), Limits{})
	require.NoError(t, err)

	assert.Equal(t, ra[0].PersistentID, rb[0].PersistentID)

	rc, err := Parse(strings.NewReader(`{"messages":[{"role":"user","content":"bye"}]}`), Limits{})
	require.NoError(t, err)
	assert.NotEqual(t, ra[0].PersistentID, rc[0].PersistentID)
}

func TestParse_SkipsBlankLinesAndKeepsLineNumbers(t *testing.T) {
	input := "\xEF\xBB\xBF" + `{"messages":[{"role":"user","content":"1"}]}` + "\r\n" +
		"\n" +
		"   \n" +
		`{"messages":[{"role":"user","content":"4"}]}` + "\n"

	records, err := Parse(strings.NewReader(input), Limits{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Line)
	assert.Equal(t, 4, records[1].Line)
}

func TestParse_InvalidLines(t *testing.T) {
	valid := `{"messages":[{"role":"user","content":"ok"}]}`

	tests := []struct {
		name    string
		line    string
		wantErr string
	}{
		{"not json", `hello`, "expected a JSON object"},
		{"array", `[1,2]`, "expected a JSON object"},
		{"truncated", `{"messages":[`, "invalid JSON"},
		{"trailing data", valid + ` {}`, "unexpected data"},
		{"missing messages", `{"split":"TRAIN"}`, "messages is required"},
		{"null messages", `{"messages":null}`, "messages is required"},
		{"messages not array", `{"messages":"hi"}`, "messages must be an array"},
		{"empty messages", `{"messages":[]}`, "messages must not be empty"},
		{"message without role", `{"messages":[{"content":"x"}]}`, "messages[0] must be an object with a role"},
		{"message not object", `{"messages":["x"]}`, "messages[0]"},
		{"tools not array", `{"messages":[{"role":"user"}],"tools":{}}`, "tools must be an array"},
		{"bad split", `{"messages":[{"role":"user"}],"split":"VALIDATION"}`, "split must be TRAIN or TEST"},
		{"output not object", `{"messages":[{"role":"user"}],"output":"a"}`, "output must be an object"},
		{"empty persistent id", `{"messages":[{"role":"user"}],"persistent_id":"  "}`, "persistent_id must not be empty"},
		{"long persistent id", `{"messages":[{"role":"user"}],"persistent_id":"` + strings.Repeat("x", 256) + `"}`, "persistent_id exceeds"},
		{"object persistent id", `{"messages":[{"role":"user"}],"persistent_id":{"id":1}}`, "invalid persistent_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(valid+"\n"+tt.line+"\n"), Limits{})
			require.Error(t, err)

			var lineErr *LineError
			require.True(t, errors.As(err, &lineErr), "expected *LineError, got %T", err)
			assert.Equal(t, 2, lineErr.Line)
			assert.Contains(t, err.Error(), "line 2: ")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_EmptyFile(t *testing.T) {
	_, err := Parse(strings.NewReader("\n  \n"), Limits{})
	assert.ErrorIs(t, err, ErrNoEntries)
}

func TestParse_MaxEntries(t *testing.T) {
	line := `{"messages":[{"role":"user","content":"x"}]}` + "\n"

	records, err := Parse(strings.NewReader(strings.Repeat(line, 3)), Limits{MaxEntries: 3})
	require.NoError(t, err)
	assert.Len(t, records, 3)

	_, err = Parse(strings.NewReader(strings.Repeat(line, 4)), Limits{MaxEntries: 3})
	assert.ErrorIs(t, err, ErrTooManyEntries)
	assert.Contains(t, err.Error(), "line 4: ")
}

func TestParse_MaxLineBytes(t *testing.T) {
	short := `{"messages":[{"role":"user","content":"x"}]}`
	long := `{"messages":[{"role":"user","content":"` + strings.Repeat("y", 200) + `"}]}`

	_, err := Parse(strings.NewReader(short+"\n"+long+"\n"), Limits{MaxLineBytes: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2: line exceeds 100 bytes")
}
