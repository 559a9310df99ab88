// Copyright 2026 The QFS Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import "testing"

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0 B"},
		{1, "1 B"},
		{512, "512 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{262144, "256.0 KB"},
		{1 << 20, "1.0 MB"},
		{3 << 20, "3.0 MB"},
		{1 << 30, "1.0 GB"},
		{3221225472, "3.0 GB"},
	}
	for _, test := range tests {
		if got := formatSize(test.bytes); got != test.want {
			t.Errorf("formatSize(%d) = %q, want %q", test.bytes, got, test.want)
		}
	}
}
