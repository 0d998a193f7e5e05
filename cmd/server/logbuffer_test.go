package main

import (
	"fmt"
	"testing"
)

func TestLogBufferKeepsNewestLines(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(lb, "line %d\n", i)
	}
	lb.Write([]byte("a\nb\n\n"))

	got := lb.Lines()
	want := []string{"line 4", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Lines() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Lines() = %v, want %v", got, want)
		}
	}

	got[0] = "changed"
	if lb.Lines()[0] != "line 4" {
		t.Fatal("Lines() exposed the internal slice")
	}
}
