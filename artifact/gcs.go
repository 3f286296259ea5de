// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/AleutianAI/negentropy/datatypes"
)

// GCSStore persists artifacts in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to GCS. saKeyPath is optional; when empty,
// application default credentials are used.
func NewGCSStore(ctx context.Context, bucket, saKeyPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to write GCS object %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

func (s *GCSStore) Get(ctx context.Context, path string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, datatypes.NotFound("artifact", path)
		}
		return nil, fmt.Errorf("failed to open GCS object %s: %w", path, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %s: %w", path, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var paths []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects under %s: %w", prefix, err)
		}
		paths = append(paths, attrs.Name)
	}
	return paths, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }
