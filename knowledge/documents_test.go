// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/negentropy/artifact"
	"github.com/AleutianAI/negentropy/datatypes"
)

func newDocumentService(t *testing.T) (*DocumentService, *MemoryRepository, *datatypes.Corpus) {
	t.Helper()
	repo := NewMemoryRepository()
	corpus := newTestCorpus(t, repo)
	pipeline := NewPipeline(repo, nil, nil, nil)
	svc := NewDocumentService(repo, artifact.NewMemoryStore(), pipeline, nil)
	return svc, repo, corpus
}

func TestDocumentService_Upload(t *testing.T) {
	svc, repo, corpus := newDocumentService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadRequest{
		AppName:     "app",
		CorpusID:    corpus.ID,
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte("uploaded file body"),
	})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	require.NotNil(t, res.Run)
	assert.Equal(t, datatypes.RunStatusCompleted, res.Run.Status)

	doc := res.Document
	assert.Equal(t, "notes.txt", doc.OriginalFilename)
	assert.Equal(t, datatypes.DocumentStatusActive, doc.Status)
	assert.Len(t, doc.FileHash, 64)
	assert.Equal(t, int64(len("uploaded file body")), doc.FileSize)
	assert.Contains(t, doc.GCSURI, "knowledge/app/"+corpus.ID+"/notes.txt")

	chunks, _, err := repo.ListChunks(ctx, corpus.ID, doc.GCSURI, 0, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "uploaded file body", chunks[0].Content)
}

func TestDocumentService_UploadDeduplicates(t *testing.T) {
	svc, repo, corpus := newDocumentService(t)
	ctx := context.Background()

	req := UploadRequest{
		AppName: "app", CorpusID: corpus.ID,
		Filename: "notes.txt", ContentType: "text/plain",
		Data: []byte("same bytes"),
	}
	first, err := svc.Upload(ctx, req)
	require.NoError(t, err)

	// Identical bytes under a different filename still dedup by hash.
	req.Filename = "renamed.txt"
	second, err := svc.Upload(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Document.ID, second.Document.ID)
	assert.Nil(t, second.Run)

	docs, err := repo.ListDocuments(ctx, corpus.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDocumentService_UploadValidation(t *testing.T) {
	svc, _, corpus := newDocumentService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadRequest{AppName: "app", CorpusID: corpus.ID, Filename: "a.txt"})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))

	_, err = svc.Upload(ctx, UploadRequest{AppName: "app", CorpusID: corpus.ID, Data: []byte("x")})
	assert.True(t, datatypes.IsKind(err, datatypes.KindInvalidArgument))

	_, err = svc.Upload(ctx, UploadRequest{
		AppName: "app", CorpusID: "missing", Filename: "a.txt", Data: []byte("x"),
	})
	assert.True(t, datatypes.IsKind(err, datatypes.KindNotFound))
}

func TestDocumentService_UploadUnsupportedType(t *testing.T) {
	svc, repo, corpus := newDocumentService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadRequest{
		AppName: "app", CorpusID: corpus.ID,
		Filename: "img.png", ContentType: "image/png",
		Data: []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.Error(t, err)
	assert.True(t, datatypes.IsKind(err, datatypes.KindContentExtractionFailed))

	// The document row records the failure.
	docs, err := repo.ListDocuments(ctx, corpus.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, datatypes.DocumentStatusFailed, docs[0].Status)
}

func TestDocumentService_Delete(t *testing.T) {
	svc, repo, corpus := newDocumentService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadRequest{
		AppName: "app", CorpusID: corpus.ID,
		Filename: "notes.txt", ContentType: "text/plain",
		Data: []byte("to be deleted"),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "app", corpus.ID, res.Document.ID))

	_, total, err := repo.ListChunks(ctx, corpus.ID, res.Document.GCSURI, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	docs, err := repo.ListDocuments(ctx, corpus.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, datatypes.DocumentStatusDeleted, docs[0].Status)

	// Deleting again reports not found.
	err = svc.Delete(ctx, "app", corpus.ID, "unknown-id")
	assert.True(t, datatypes.IsKind(err, datatypes.KindNotFound))
}
