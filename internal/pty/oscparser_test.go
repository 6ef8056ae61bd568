package pty

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strp(s string) *string { return &s }

func TestOSC133PromptStart(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;A\x07"))
	require.Len(t, events, 1)
	require.Equal(t, EventPromptStart, events[0].Kind)
}

func TestOSC133PromptEnd(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;B\x07"))
	require.Len(t, events, 1)
	require.Equal(t, EventPromptEnd, events[0].Kind)
}

func TestOSC133PromptStartWithSTTerminator(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;A\x1b\\"))
	require.Len(t, events, 1)
	require.Equal(t, EventPromptStart, events[0].Kind)
}

func TestOSC133CommandStartNoCommand(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;C\x07"))
	require.Len(t, events, 1)
	require.Equal(t, EventCommandStart, events[0].Kind)
	require.Nil(t, events[0].Command)
}

func TestOSC133CommandWithText(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;C;ls -la\x07"))
	require.Len(t, events, 1)
	require.Equal(t, strp("ls -la"), events[0].Command)
}

func TestOSC133CommandWithComplexText(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;C;cat file.txt | grep -E 'pattern' | head -n 10\x07"))
	require.Len(t, events, 1)
	require.Equal(t, strp("cat file.txt | grep -E 'pattern' | head -n 10"), events[0].Command)
}

func TestOSC133CommandEndSuccess(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;D;0\x07"))
	require.Len(t, events, 1)
	require.Equal(t, 0, events[0].ExitCode)
}

func TestOSC133CommandEndFailure(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;D;1\x07"))
	require.Len(t, events, 1)
	require.Equal(t, 1, events[0].ExitCode)
}

func TestOSC133CommandEndSignal(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;D;130\x07"))
	require.Len(t, events, 1)
	require.Equal(t, 130, events[0].ExitCode)
}

func TestOSC133CommandEndNoExitCode(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;D\x07"))
	require.Len(t, events, 1)
	require.Equal(t, 0, events[0].ExitCode)
}

func TestFullCommandLifecycle(t *testing.T) {
	p := NewParser()

	events := p.Parse([]byte("\x1b]133;A\x07"))
	require.Len(t, events, 1)
	require.Equal(t, EventPromptStart, events[0].Kind)

	events = p.Parse([]byte("\x1b]133;B\x07"))
	require.Len(t, events, 1)
	require.Equal(t, EventPromptEnd, events[0].Kind)

	events = p.Parse([]byte("\x1b]133;C;echo hello\x07"))
	require.Len(t, events, 1)
	require.Equal(t, strp("echo hello"), events[0].Command)

	events = p.Parse([]byte("\x1b]133;D;0\x07"))
	require.Len(t, events, 1)
	require.Equal(t, 0, events[0].ExitCode)
}

func TestMultipleEventsInSingleParse(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;A\x07\x1b]133;B\x07"))
	require.Len(t, events, 2)
	require.Equal(t, EventPromptStart, events[0].Kind)
	require.Equal(t, EventPromptEnd, events[1].Kind)
}

func TestOSC7Directory(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]7;file://localhost/Users/test\x07"))
	require.Len(t, events, 1)
	require.Equal(t, "/Users/test", events[0].Path)
}

func TestOSC7DirectoryWithSpaces(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]7;file://localhost/Users/test/My%20Documents\x07"))
	require.Len(t, events, 1)
	require.Equal(t, "/Users/test/My Documents", events[0].Path)
}

func TestOSC7DirectoryDeepPath(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]7;file://macbook.local/Users/xlyk/Code/qbit/src-tauri\x07"))
	require.Len(t, events, 1)
	require.Equal(t, "/Users/xlyk/Code/qbit/src-tauri", events[0].Path)
}

func TestURLDecode(t *testing.T) {
	require.Equal(t, "/path/to/file", urlDecode("/path/to/file"))
	require.Equal(t, "/path/My Documents", urlDecode("/path/My%20Documents"))
	require.Equal(t, "/path with multiple spaces", urlDecode("/path%20with%20multiple%20spaces"))
	require.Equal(t, "/path#file", urlDecode("/path%23file"))
	require.Equal(t, "/path%ZZ", urlDecode("/path%ZZ"))
	require.Equal(t, "/path", urlDecode("/path%2"))
}

func TestParserIgnoresRegularText(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("Hello, world!\nThis is normal output.\n"))
	require.Empty(t, events)
}

func TestParserHandlesMixedContent(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("Some output\x1b]133;A\x07more output\x1b]133;B\x07"))
	require.Len(t, events, 2)
	require.Equal(t, EventPromptStart, events[0].Kind)
	require.Equal(t, EventPromptEnd, events[1].Kind)
}

func TestParserHandlesAnsiEscapeCodes(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[32mgreen text\x1b[0m\x1b]133;A\x07"))
	require.Len(t, events, 1)
	require.Equal(t, EventPromptStart, events[0].Kind)
}

func TestParserIgnoresUnknownOSC(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]0;Window Title\x07"))
	require.Empty(t, events)
}

func TestParserEmptyInput(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte{})
	require.Empty(t, events)
}

func TestParserPartialOSCSequence(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;A"))
	require.Empty(t, events)
}

func TestParserIsStatefulBetweenCallsForEvents(t *testing.T) {
	p := NewParser()
	events1 := p.Parse([]byte("\x1b]133;A\x07"))
	require.Len(t, events1, 1)

	events2 := p.Parse([]byte("\x1b]133;B\x07"))
	require.Len(t, events2, 1)
	require.Equal(t, EventPromptEnd, events2[0].Kind)
}

func TestAlternateScreenEnable1049(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[?1049h"))
	require.Len(t, events, 1)
	require.Equal(t, EventAlternateScreenEnabled, events[0].Kind)
}

func TestAlternateScreenDisable1049(t *testing.T) {
	p := NewParser()
	p.Parse([]byte("\x1b[?1049h"))
	events := p.Parse([]byte("\x1b[?1049l"))
	require.Len(t, events, 1)
	require.Equal(t, EventAlternateScreenDisabled, events[0].Kind)
}

func TestAlternateScreenEnable47(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[?47h"))
	require.Len(t, events, 1)
	require.Equal(t, EventAlternateScreenEnabled, events[0].Kind)
}

func TestAlternateScreenEnable1047(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[?1047h"))
	require.Len(t, events, 1)
	require.Equal(t, EventAlternateScreenEnabled, events[0].Kind)
}

func TestAlternateScreenDeduplicationEnable(t *testing.T) {
	p := NewParser()
	events1 := p.Parse([]byte("\x1b[?1049h"))
	require.Len(t, events1, 1)
	events2 := p.Parse([]byte("\x1b[?1049h"))
	require.Empty(t, events2)
}

func TestAlternateScreenDeduplicationDisable(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[?1049l"))
	require.Empty(t, events)
}

func TestAlternateScreenFullCycle(t *testing.T) {
	p := NewParser()
	enable := p.Parse([]byte("\x1b[?1049h"))
	require.Len(t, enable, 1)
	require.Equal(t, EventAlternateScreenEnabled, enable[0].Kind)

	disable := p.Parse([]byte("\x1b[?1049l"))
	require.Len(t, disable, 1)
	require.Equal(t, EventAlternateScreenDisabled, disable[0].Kind)
}

func TestAlternateScreenMixedWithOSC(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b]133;A\x07\x1b[?1049h"))
	require.Len(t, events, 2)
	require.Equal(t, EventPromptStart, events[0].Kind)
	require.Equal(t, EventAlternateScreenEnabled, events[1].Kind)
}

func TestNonDecPrivateModeIgnored(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[1049h"))
	require.Empty(t, events)
}

func TestAlternateScreenOtherModesIgnored(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[?1h"))
	require.Empty(t, events)
}

func TestVimLikeStartupSequence(t *testing.T) {
	p := NewParser()
	events := p.Parse([]byte("\x1b[?1049h\x1b[22;0;0t\x1b[?1h\x1b="))
	require.Len(t, events, 1)
	require.Equal(t, EventAlternateScreenEnabled, events[0].Kind)
}

func TestVimLikeExitSequence(t *testing.T) {
	p := NewParser()
	p.Parse([]byte("\x1b[?1049h"))
	events := p.Parse([]byte("\x1b[?1049l\x1b[23;0;0t\x1b[?1l\x1b>"))
	require.Len(t, events, 1)
	require.Equal(t, EventAlternateScreenDisabled, events[0].Kind)
}
