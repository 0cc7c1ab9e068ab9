package testutil

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"TestExport", "TestExport"},
		{"TestExport/sub_case", "TestExport-sub-case"},
		{"Test with spaces!", "Testwithspaces"},
		{strings.Repeat("a", 40), strings.Repeat("a", 30)},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUniqueContainerName(t *testing.T) {
	a := UniqueContainerName(t, "minio")
	b := UniqueContainerName(t, "minio")
	if a == b {
		t.Error("names should differ")
	}
	if !strings.HasPrefix(a, "pagecam-test-minio-TestUniqueContainerName-") {
		t.Errorf("name = %q", a)
	}
}

func TestWaitForTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	ctx := context.Background()
	if err := WaitForTCP(ctx, ln.Addr().String(), time.Second); err != nil {
		t.Errorf("WaitForTCP() error = %v", err)
	}

	port, err := FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if err := WaitForTCP(ctx, "127.0.0.1:"+port, 500*time.Millisecond); err == nil {
		t.Error("WaitForTCP() on a closed port should fail")
	}
}
