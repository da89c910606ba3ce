// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// gcsFetchTimeout bounds the whole catalog download. Catalogs are tiny; a
// slow fetch means the bucket is unreachable and startup should fall back to
// the embedded default.
const gcsFetchTimeout = 15 * time.Second

// FetchCatalogObject downloads a catalog from a gs://bucket/object URI.
//
// # Description
//
//	Used when CATALOG_OBJECT points at a fleet-distributed catalog. Default
//	application credentials are used unless INSIGHT_GCS_ANONYMOUS=1, which
//	reads public buckets without auth. The read is capped at
//	MaxYAMLFileSize, matching the loader's limit.
//
// # Inputs
//
//   - ctx: Context for cancellation. A 15s fetch timeout is layered on top.
//   - uri: Object URI in gs://bucket/path form.
//
// # Outputs
//
//   - []byte: Raw catalog YAML.
//   - error: Non-nil on parse, connect, or read failure. The caller decides
//     whether that is fatal or falls back to the embedded catalog.
func FetchCatalogObject(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitGCSURI(uri)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, gcsFetchTimeout)
	defer cancel()

	var opts []option.ClientOption
	if os.Getenv("INSIGHT_GCS_ANONYMOUS") == "1" {
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("FetchCatalogObject: storage client: %w", err)
	}
	defer func() { _ = client.Close() }()

	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchCatalogObject: open gs://%s/%s: %w", bucket, object, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(io.LimitReader(reader, MaxYAMLFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("FetchCatalogObject: read gs://%s/%s: %w", bucket, object, err)
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("FetchCatalogObject: gs://%s/%s exceeds maximum size (%d)", bucket, object, MaxYAMLFileSize)
	}
	return data, nil
}

// splitGCSURI parses gs://bucket/object into its parts.
func splitGCSURI(uri string) (bucket, object string, err error) {
	const scheme = "gs://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("catalog object URI %q must start with gs://", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash == len(rest)-1 {
		return "", "", fmt.Errorf("catalog object URI %q must be gs://bucket/object", uri)
	}
	return rest[:slash], rest[slash+1:], nil
}
