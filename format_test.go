package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatTime_SameYear(t *testing.T) {
	now := time.Now()
	ts := time.Date(now.Year(), time.March, 5, 14, 30, 0, 0, time.Local)

	got := formatTime(ts)
	assert.Contains(t, got, "Mar")
	assert.Contains(t, got, "14:30")
}

func TestFormatTime_DifferentYear(t *testing.T) {
	ts := time.Date(2003, time.July, 9, 10, 0, 0, 0, time.Local)

	got := formatTime(ts)
	assert.Contains(t, got, "2003")
	assert.NotContains(t, got, "10:00")
}

func TestPrintTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"FIELD", "VALUE"}, [][]string{
		{"store", "file"},
		{"refresh token", "present"},
	})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 3)

	// Every VALUE starts at the same column.
	col := bytes.Index(lines[0], []byte("VALUE"))
	assert.Equal(t, col, bytes.Index(lines[1], []byte("file")))
	assert.Equal(t, col, bytes.Index(lines[2], []byte("present")))
}
