// Package archive keeps export snapshots in a GCS bucket so a snapshot can
// be ingested on a machine other than the one that exported it. Application
// Default Credentials are assumed (gcloud auth application-default login).
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Upload puts a local snapshot file into the bucket under objectName.
func Upload(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("archive.Upload: open %q: %w", filePath, err)
	}
	defer f.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("archive.Upload: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive.Upload: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive.Upload: finalize upload: %w", err)
	}
	return nil
}

// Fetch downloads snapshot bytes from a gs://bucket/object URI.
func Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := splitURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("archive.Fetch: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive.Fetch: create storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive.Fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive.Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// IsURI reports whether path refers to the archive rather than local disk.
func IsURI(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// ObjectName builds the bucket path for a snapshot, keyed by export time.
func ObjectName(exportedAt time.Time) string {
	return fmt.Sprintf("snapshots/monzo-%s.json", exportedAt.UTC().Format("20060102-150405"))
}

func splitURI(gcsURI string) (bucket, object string, err error) {
	if !IsURI(gcsURI) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}
