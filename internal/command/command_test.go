package command

import (
	"reflect"
	"testing"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"define js", DefineJS("var a = 1;"), "DEFINE-JS var a = 1;"},
		{"define css", DefineCSS(".x { color: red }"), "DEFINE-CSS .x { color: red }"},
		{"exec", Exec("x=1"), "EXEC x=1"},
		{"eval", Eval("1+1"), "EVAL 1+1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestBuffer_FIFOOrder(t *testing.T) {
	var b Buffer

	sent := []string{Exec("x=1"), Exec("x=2"), Eval("x")}
	for _, cmd := range sent {
		b.Append(cmd)
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}

	got := b.Drain()
	if !reflect.DeepEqual(got, sent) {
		t.Errorf("Drain() = %v, want %v", got, sent)
	}

	if !b.Drained() {
		t.Error("buffer should report drained after Drain")
	}
	if b.Len() != 0 {
		t.Errorf("Len() after drain = %d, want 0", b.Len())
	}
}

func TestBuffer_DrainEmpty(t *testing.T) {
	var b Buffer

	got := b.Drain()
	if len(got) != 0 {
		t.Errorf("Drain() of empty buffer = %v, want empty", got)
	}
}

func TestBuffer_DrainTwicePanics(t *testing.T) {
	var b Buffer
	b.Append(Exec("x=1"))
	b.Drain()

	defer func() {
		if recover() == nil {
			t.Error("second Drain should panic")
		}
	}()
	b.Drain()
}

func TestBuffer_AppendAfterDrainPanics(t *testing.T) {
	var b Buffer
	b.Drain()

	defer func() {
		if recover() == nil {
			t.Error("Append after Drain should panic")
		}
	}()
	b.Append(Exec("x=1"))
}
