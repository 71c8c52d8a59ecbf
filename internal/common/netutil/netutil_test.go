package netutil

import "testing"

func TestLoopbackHost(t *testing.T) {
	cases := map[string]string{
		"":         "127.0.0.1",
		"0.0.0.0":  "127.0.0.1",
		"::":       "::1",
		"[::]":     "::1",
		"[::1]":    "::1",
		"10.0.0.5": "10.0.0.5",
		"gpu-box":  "gpu-box",
	}
	for in, want := range cases {
		if got := LoopbackHost(in); got != want {
			t.Fatalf("LoopbackHost(%q)=%q want %q", in, got, want)
		}
	}
}

func TestLoopbackAddr(t *testing.T) {
	if got := LoopbackAddr("[::]", 30000); got != "[::1]:30000" {
		t.Fatalf("got %q", got)
	}
	if got := LoopbackAddr("0.0.0.0", 30000); got != "127.0.0.1:30000" {
		t.Fatalf("got %q", got)
	}
}
