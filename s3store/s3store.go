// Package s3store serves range scans from the objects under an S3 prefix.
// Each object is one entry: the key is the object key with the prefix removed
// and the value is the object body. S3 lists keys in byte order, so a range
// scan is a bounded listing.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
	"reduction.dev/rangemerge/kv"
)

var (
	scansTotal   = metrics.NewCounter(`kv_scans_total{backend="s3"}`)
	scannedTotal = metrics.NewCounter(`kv_scanned_entries_total{backend="s3"}`)
	listsTotal   = metrics.NewCounter(`s3_list_requests_total`)
	getsTotal    = metrics.NewCounter(`s3_get_requests_total`)
)

type Params struct {
	S3 S3Service
	// URI in the form s3://bucket/prefix.
	URI string
	// PageSize is the MaxKeys of each listing. Defaults to 1000.
	PageSize int
	// FetchConcurrency bounds the object bodies read at once. Defaults to 16.
	FetchConcurrency int
}

type Store struct {
	s3               S3Service
	bucket           string
	prefix           string
	pageSize         int32
	fetchConcurrency int
	usage            Usage
	closed           atomic.Bool
}

func New(params Params) (*Store, error) {
	bucket, prefix, err := parseURI(params.URI)
	if err != nil {
		return nil, err
	}
	s := &Store{
		s3:               params.S3,
		bucket:           bucket,
		prefix:           prefix,
		pageSize:         1000,
		fetchConcurrency: 16,
	}
	if params.PageSize > 0 {
		s.pageSize = int32(params.PageSize)
	}
	if params.FetchConcurrency > 0 {
		s.fetchConcurrency = params.FetchConcurrency
	}
	return s, nil
}

func parseURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("S3 URI must start with s3://: %s", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("S3 URI must include bucket: %s", uri)
	}
	// Ensure the prefix ends with a slash so keys don't run into it.
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

func (s *Store) objectKey(key []byte) *string {
	return aws.String(s.prefix + string(key))
}

func (s *Store) Put(key, value []byte) error {
	if s.closed.Load() {
		return kv.ErrClosed
	}
	s.usage.addExpensive()
	_, err := s.s3.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    s.objectKey(key),
		Body:   bytes.NewReader(value),
	})
	if err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

func (s *Store) Delete(key []byte) error {
	if s.closed.Load() {
		return kv.ErrClosed
	}
	_, err := s.s3.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    s.objectKey(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, kv.ErrClosed
	}
	return s.read(context.Background(), *s.objectKey(key))
}

// Usage reports the S3 requests made through this store.
func (s *Store) Usage() *Usage {
	return &s.usage
}

// Close stops new operations. The S3 client holds nothing to release.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) read(ctx context.Context, objectKey string) ([]byte, error) {
	getsTotal.Inc()
	s.usage.addCheap()
	output, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &objectKey,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("failed reading key %s: %w", objectKey, kv.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Scan lists the range one page at a time. When values are requested the
// bodies of a page are fetched concurrently and the entries are yielded in key
// order. Listing is not a snapshot: objects written during a scan may or may
// not be seen.
func (s *Store) Scan(ctx context.Context, r kv.Range, opts kv.ScanOptions) iter.Seq2[kv.Entry, error] {
	return func(yield func(kv.Entry, error) bool) {
		if s.closed.Load() {
			yield(kv.Entry{}, kv.ErrClosed)
			return
		}
		lower, upper, err := opts.StoredBounds(r)
		if err != nil {
			yield(kv.Entry{}, err)
			return
		}
		if lower != nil && upper != nil && bytes.Compare(lower, upper) >= 0 {
			return
		}
		scansTotal.Inc()

		input := &s3.ListObjectsV2Input{
			Bucket:  &s.bucket,
			Prefix:  &s.prefix,
			MaxKeys: aws.Int32(s.pageSize),
		}
		// StartAfter is exclusive. Any key >= lower sorts after lower minus its
		// last byte, so start there and drop the few keys below lower.
		if len(lower) > 0 {
			input.StartAfter = aws.String(s.prefix + string(lower[:len(lower)-1]))
		}

		emitted := 0
		for {
			listsTotal.Inc()
			s.usage.addExpensive()
			page, err := s.s3.ListObjectsV2(ctx, input)
			if err != nil {
				yield(kv.Entry{}, fmt.Errorf("list objects: %w", err))
				return
			}

			keys, done := s.pageKeys(page, lower, upper)
			if opts.Limit > 0 && emitted+len(keys) >= opts.Limit {
				keys = keys[:opts.Limit-emitted]
				done = true
			}

			entries, err := s.fetchPage(ctx, keys, opts)
			if err != nil {
				yield(kv.Entry{}, err)
				return
			}
			for _, e := range entries {
				scannedTotal.Inc()
				if !yield(e, nil) {
					return
				}
				emitted++
			}

			if done || !aws.ToBool(page.IsTruncated) {
				return
			}
			input.ContinuationToken = page.NextContinuationToken
			input.StartAfter = nil
		}
	}
}

// pageKeys returns the stored keys of a listing page that fall inside
// [lower, upper). done reports that the listing has passed upper.
func (s *Store) pageKeys(page *s3.ListObjectsV2Output, lower, upper []byte) (keys [][]byte, done bool) {
	for _, obj := range page.Contents {
		key := []byte(strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		if lower != nil && bytes.Compare(key, lower) < 0 {
			continue
		}
		if upper != nil && bytes.Compare(key, upper) >= 0 {
			return keys, true
		}
		keys = append(keys, key)
	}
	return keys, false
}

func (s *Store) fetchPage(ctx context.Context, keys [][]byte, opts kv.ScanOptions) ([]kv.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bodies := make([][]byte, len(keys))
	if opts.Values {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.fetchConcurrency)
		for i, key := range keys {
			g.Go(func() error {
				body, err := s.read(gctx, s.prefix+string(key))
				if err != nil {
					return err
				}
				bodies[i] = body
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	entries := make([]kv.Entry, len(keys))
	for i, key := range keys {
		e, err := opts.DecodeEntry(key, func() ([]byte, error) { return bodies[i], nil })
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

var _ kv.Store = (*Store)(nil)
