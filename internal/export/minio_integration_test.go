package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/minio/minio-go/v7"

	"github.com/jackzampolin/pagecam/internal/testutil"
)

func TestMinio_Integration(t *testing.T) {
	c := testutil.RunContainer(t, "minio", testutil.ContainerSpec{
		Image: "minio/minio:latest",
		Port:  "9000/tcp",
		Env:   []string{"MINIO_ROOT_USER=pagecam", "MINIO_ROOT_PASSWORD=pagecam-secret"},
		Cmd:   []string{"server", "/data"},
	})

	m, err := NewMinio(MinioConfig{
		Endpoint:  c.Addr,
		AccessKey: "pagecam",
		SecretKey: "pagecam-secret",
		Bucket:    "scans",
	})
	if err != nil {
		t.Fatalf("NewMinio() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// The port opens before the server accepts requests.
	err = retry.Do(
		func() error { return m.EnsureBucket(ctx) },
		retry.Context(ctx),
		retry.Attempts(30),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
	)
	if err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}
	if err := m.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket() on existing bucket error = %v", err)
	}

	doc := filepath.Join(t.TempDir(), "scan.pdf")
	if err := os.WriteFile(doc, []byte("%PDF-1.7 integration"), 0o644); err != nil {
		t.Fatal(err)
	}
	url, err := m.Export(ctx, "book_1", doc)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if url != "http://"+c.Addr+"/scans/book_1/scan.pdf" {
		t.Errorf("url = %q", url)
	}

	obj, err := m.client.GetObject(ctx, "scans", "book_1/scan.pdf", minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.7 integration" {
		t.Errorf("stored object = %q", data)
	}
	info, err := obj.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", info.ContentType)
	}
}
