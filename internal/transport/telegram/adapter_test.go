package telegram

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "childebot/pkg/logx"
)

func TestAdapterStopsPollerOnce(t *testing.T) {
	t.Parallel()
	var calls int32
	a := &Adapter{log: logx.Nop()}
	a.haltPoller = func() { atomic.AddInt32(&calls, 1) }
	done, stop := a.arm(nil)
	close(done)

	// Shutdown races the context watcher against Stop; the halt must land
	// exactly once no matter who wins or how often Stop is called.
	stop()
	if err := a.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond) // Stop fires the halt asynchronously
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("poller halted %d times, want 1", n)
	}
}

func TestSplitTextShortMessageUntouched(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlineBoundaries(t *testing.T) {
	t.Parallel()
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("x", 10)
	}
	text := strings.Join(lines, "\n")

	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		// Newline splitting keeps lines whole.
		for _, line := range strings.Split(c, "\n") {
			if line != "" && line != strings.Repeat("x", 10) {
				t.Fatalf("chunk %d broke a line: %q", i, line)
			}
		}
	}
}

func TestSplitTextNoNewlinesStillChunks(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 250)
	chunks := splitText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("content lost: %d of 250", total)
	}
}
