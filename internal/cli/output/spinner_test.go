package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer guards a bytes.Buffer for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner_StartSuccess(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "Refreshing")
	s.interval = time.Millisecond

	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.SetMessage("Still refreshing")
	s.Success("done")

	out := buf.String()
	if !strings.Contains(out, "Refreshing") {
		t.Errorf("animation never drawn: %q", out)
	}
	if !strings.HasSuffix(out, "✓ done\n") {
		t.Errorf("output = %q", out)
	}

	// Nothing is drawn after the final line.
	time.Sleep(10 * time.Millisecond)
	if buf.String() != out {
		t.Error("spinner kept drawing after Success")
	}
}

func TestSpinner_Fail(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "Working")
	s.Start()
	s.Fail("boom")

	if !strings.HasSuffix(buf.String(), "✗ boom\n") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestSpinner_StopIdempotent(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "x")
	s.Start()
	s.Stop()
	s.Stop()
	s.Success("ignored")

	if strings.Contains(buf.String(), "ignored") {
		t.Error("Success after Stop wrote output")
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "x")
	s.Fail("never started")

	if buf.String() != "\r✗ never started\n" {
		t.Errorf("output = %q", buf.String())
	}
}
