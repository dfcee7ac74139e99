package logprinter_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fluo-sh/fluo/pkg/eventlog"
	"github.com/fluo-sh/fluo/pkg/logprinter"
	"github.com/stretchr/testify/require"
)

func TestPrintAtInfoLevelSkipsDebugOnlyRecords(t *testing.T) {
	log := eventlog.NewLog()
	log.Append(eventlog.MachineStart, "m", nil, true)
	log.Append(eventlog.ActionStart, "greet", nil, false)
	log.Append(eventlog.StateEnter, "m.a", nil, true)

	var buf bytes.Buffer
	p := logprinter.NewWithLevel(logprinter.LevelInfo, "", &buf)
	p.Print(log)

	out := buf.String()
	require.Contains(t, out, "MACHINE_START")
	require.Contains(t, out, "STATE_ENTER")
	require.NotContains(t, out, "ACTION_START")
}

func TestPrintAtDebugLevelIncludesEverything(t *testing.T) {
	log := eventlog.NewLog()
	log.Append(eventlog.ActionStart, "greet", nil, false)

	var buf bytes.Buffer
	p := logprinter.NewWithLevel(logprinter.LevelDebug, "", &buf)
	p.Print(log)

	require.Contains(t, buf.String(), "ACTION_START")
}

func TestPrintPrefixesEachLine(t *testing.T) {
	log := eventlog.NewLog()
	log.Append(eventlog.MachineStart, "m", nil, true)

	var buf bytes.Buffer
	p := logprinter.NewWithLevel(logprinter.LevelInfo, "trace", &buf)
	p.Print(log)

	require.True(t, strings.HasPrefix(buf.String(), "[trace]"))
}

func TestSetFormatterOverridesOutput(t *testing.T) {
	log := eventlog.NewLog()
	log.Append(eventlog.MachineStart, "m", nil, true)

	var buf bytes.Buffer
	p := logprinter.NewWithLevel(logprinter.LevelInfo, "", &buf)
	p.SetFormatter(func(r eventlog.Record) string { return "custom:" + string(r.Tag) })
	p.Print(log)

	require.Equal(t, "custom:MACHINE_START\n", buf.String())
}
