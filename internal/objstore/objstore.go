// Package objstore abstracts blob storage behind a small interface with an
// S3 implementation and an in-memory fake for tests.
//
// URIs are of the form store://{bucket}/{key}. Document keys follow
// projects/{project_id}/documents/{document_id}/... and derived artifacts
// live under the same document prefix.
package objstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scheme is the URI scheme for object references.
const Scheme = "store://"

// URI identifies an object as bucket plus key.
type URI struct {
	Bucket string
	Key    string
}

// ParseURI parses a store://{bucket}/{key} reference.
func ParseURI(raw string) (URI, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return URI{}, fmt.Errorf("not a %s URI: %q", Scheme, raw)
	}
	rest := strings.TrimPrefix(raw, Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return URI{}, fmt.Errorf("malformed object URI: %q", raw)
	}
	return URI{Bucket: bucket, Key: key}, nil
}

// String renders the URI in store://{bucket}/{key} form.
func (u URI) String() string {
	return Scheme + u.Bucket + "/" + u.Key
}

// Join returns a URI with extra path elements appended to the key.
func (u URI) Join(elems ...string) URI {
	key := strings.TrimSuffix(u.Key, "/")
	for _, e := range elems {
		key += "/" + strings.Trim(e, "/")
	}
	return URI{Bucket: u.Bucket, Key: key}
}

// Dir returns the URI of the key's parent prefix.
func (u URI) Dir() URI {
	idx := strings.LastIndex(u.Key, "/")
	if idx < 0 {
		return URI{Bucket: u.Bucket, Key: ""}
	}
	return URI{Bucket: u.Bucket, Key: u.Key[:idx]}
}

// FileName returns the last path element of the key.
func (u URI) FileName() string {
	idx := strings.LastIndex(u.Key, "/")
	if idx < 0 {
		return u.Key
	}
	return u.Key[idx+1:]
}

// ProjectID extracts the project ID from a projects/{p}/... key.
// Returns empty string when the key does not follow the convention.
func (u URI) ProjectID() string {
	return pathSegmentAfter(u.Key, "projects")
}

// DocumentID extracts the document ID from a .../documents/{d}/... key.
// Returns empty string when the key does not follow the convention.
func (u URI) DocumentID() string {
	return pathSegmentAfter(u.Key, "documents")
}

func pathSegmentAfter(key, marker string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		if p == marker && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// DocumentPrefix builds the canonical key prefix owning a document's blobs.
func DocumentPrefix(bucket, projectID, documentID string) URI {
	return URI{
		Bucket: bucket,
		Key:    fmt.Sprintf("projects/%s/documents/%s", projectID, documentID),
	}
}

// Object describes a stored blob returned by ListPrefix.
type Object struct {
	URI  URI
	Size int64
}

// Store is the blob storage interface used throughout the pipeline.
type Store interface {
	// GetBytes reads the full object body.
	GetBytes(ctx context.Context, uri URI) ([]byte, error)

	// PutBytes writes an object with the given content type.
	PutBytes(ctx context.Context, uri URI, data []byte, contentType string) error

	// PresignGet mints a time-limited download URL.
	PresignGet(ctx context.Context, uri URI, ttl time.Duration) (string, error)

	// PresignPut mints a time-limited upload URL.
	PresignPut(ctx context.Context, uri URI, ttl time.Duration, contentType string) (string, error)

	// ListPrefix lists all objects under the prefix URI.
	ListPrefix(ctx context.Context, prefix URI) ([]Object, error)

	// DeletePrefix deletes every object under the prefix URI.
	DeletePrefix(ctx context.Context, prefix URI) error
}
