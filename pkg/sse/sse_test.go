package sse

import (
	"strings"
	"testing"

	"github.com/cs-jail/pa-jail/pkg/jbuffer"
)

func TestWriteEventFramesNewOutput(t *testing.T) {
	shared := jbuffer.New(64)
	shared.Append([]byte("hello world"))

	sub := New(42, 0)
	sub.WriteEvent(shared)

	frame := string(sub.Out.Bytes())
	if !strings.HasPrefix(frame, `data:{"offset":0,"data":"hello world","end_offset":11}`) {
		t.Fatalf("unexpected frame: %q", frame)
	}
	if !strings.HasSuffix(frame, "id:11\n\n") {
		t.Fatalf("unexpected frame suffix: %q", frame)
	}
}

func TestWriteEventAdvancesFromSubscriberStart(t *testing.T) {
	shared := jbuffer.New(64)
	shared.Append([]byte("0123456789"))

	sub := New(42, 5)
	sub.WriteEvent(shared)

	frame := string(sub.Out.Bytes())
	if !strings.Contains(frame, `"offset":5`) || !strings.Contains(frame, `"data":"56789"`) {
		t.Fatalf("unexpected frame: %q", frame)
	}
}

func TestWriteDoneAppendsTerminalEvent(t *testing.T) {
	sub := New(1, 0)
	sub.WriteDone()
	if string(sub.Out.Bytes()) != "data:{\"done\":true}\n\n" {
		t.Fatalf("unexpected done frame: %q", sub.Out.Bytes())
	}
}
