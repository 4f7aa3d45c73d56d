package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPrinter(noColor bool) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, NoColor: noColor}, &out, &errOut
}

func TestMessages(t *testing.T) {
	p, out, errOut := newPrinter(true)

	p.Success("Reset %d cursors", 3)
	p.Info("Loaded %s", "policy")
	p.Warn("No events")
	p.Error("Failed: %v", "boom")

	assert.Equal(t, "✓ Reset 3 cursors\nLoaded policy\n⚠ No events\n", out.String())
	assert.Equal(t, "✗ Failed: boom\n", errOut.String())
}

func TestMessages_Color(t *testing.T) {
	p, out, _ := newPrinter(false)

	p.Success("ok")

	assert.True(t, strings.HasPrefix(out.String(), "\033[32;1m"))
	assert.Contains(t, out.String(), "✓ ok\033[0m")
}

func TestJSON(t *testing.T) {
	p, out, _ := newPrinter(true)

	require.NoError(t, p.JSON(map[string]string{"channel": "/data/LeadChangeEvent"}))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "/data/LeadChangeEvent", got["channel"])
	assert.Contains(t, out.String(), "\n  \"channel\"")
}

func TestTable(t *testing.T) {
	p, out, _ := newPrinter(true)

	tbl := NewTable("CHANNEL", "REPLAY ID")
	tbl.AddRow("/data/LeadChangeEvent", "42")
	tbl.AddRow("/data/TaskChangeEvent")
	tbl.AddRow("a", "b", "dropped")
	p.Table(tbl)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "CHANNEL                REPLAY ID", lines[0])
	assert.Equal(t, "---------------------  ---------", lines[1])
	assert.Equal(t, "/data/LeadChangeEvent  42", lines[2])
	assert.Equal(t, "/data/TaskChangeEvent", lines[3])
	assert.Equal(t, "a                      b", lines[4])
	assert.Equal(t, 3, tbl.Len())
}

func TestTable_Empty(t *testing.T) {
	p, out, _ := newPrinter(true)
	p.Table(NewTable("A", "BB"))
	assert.Equal(t, "A  BB\n-  --\n", out.String())
}
