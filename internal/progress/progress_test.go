package progress

import (
	"bytes"
	"strings"
	"testing"
)

type summary string

func capture(t *testing.T, buf *bytes.Buffer) {
	old := Output
	Output = buf
	t.Cleanup(func() { Output = old })
}

func (s summary) String() string { return string(s) }

func TestDisabledBarIsSilent(t *testing.T) {
	var buf bytes.Buffer
	capture(t, &buf)

	b := New(false, 10)
	b.Add(3)
	b.Describe(summary("working"))
	b.Finish(summary("done"))

	if buf.Len() != 0 {
		t.Errorf("disabled bar wrote %q", buf.String())
	}
}

func TestNilBar(t *testing.T) {
	var b *Bar
	b.Add(1)
	b.Describe(summary("x"))
	b.Finish(summary("x"))
}

func TestFinishPrintsSummary(t *testing.T) {
	var buf bytes.Buffer
	capture(t, &buf)

	for _, total := range []int64{-1, 2} {
		buf.Reset()
		b := New(true, total)
		b.Add(1)
		b.Describe(summary("halfway"))
		b.Finish(summary("2 files checked"))

		if !strings.Contains(buf.String(), "✔ 2 files checked") {
			t.Errorf("total=%d: summary missing from %q", total, buf.String())
		}
	}
}
