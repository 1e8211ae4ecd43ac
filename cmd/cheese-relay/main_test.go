package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunUsage(t *testing.T) {
	cases := []struct {
		args []string
		code int
	}{
		{nil, exitUsage},
		{[]string{"referee"}, exitUsage},
		{[]string{"help"}, exitOK},
	}
	for _, tc := range cases {
		var stdout, stderr bytes.Buffer
		if got := run(tc.args, strings.NewReader(""), &stdout, &stderr); got != tc.code {
			t.Fatalf("run(%v) = %d, want %d", tc.args, got, tc.code)
		}
		if tc.code == exitUsage && !strings.Contains(stderr.String(), "usage: cheese-relay") {
			t.Fatalf("run(%v) printed no usage: %q", tc.args, stderr.String())
		}
	}
}
