/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes how to reach an S3 (or S3-compatible, e.g. MinIO)
// bucket, generalizing storage/persistence-s3.go's S3Factory fields to the
// segmented log's single-bucket-per-shard layout:
//
//	<prefix>/<shard>.<segno>   -- segment objects
//	<prefix>/<shard>.state     -- state object
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Backend implements Backend over an S3 bucket. S3 has no positioned
// write; every segment is buffered fully in memory as a s3Object and
// flushed as one PutObject on Sync/Close, exactly the tradeoff
// storage/persistence-s3.go documents ("S3 does not support append; we
// buffer and replace objects on sync").
type S3Backend struct {
	cfg    S3Config
	prefix string
	shard  string

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

func NewS3Backend(cfg S3Config, shard string) *S3Backend {
	pfx := strings.TrimSuffix(cfg.Prefix, "/")
	return &S3Backend{cfg: cfg, prefix: pfx, shard: shard}
}

func (b *S3Backend) ensureClient() (*s3.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return b.client, nil
	}
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if b.cfg.Region != "" {
		opts = append(opts, config.WithRegion(b.cfg.Region))
	}
	if b.cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.cfg.AccessKeyID, b.cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("persist: loading aws config: %w", err)
	}
	b.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if b.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.cfg.Endpoint)
		}
		o.UsePathStyle = b.cfg.ForcePathStyle
	})
	b.opened = true
	return b.client, nil
}

func (b *S3Backend) key(suffix string) string {
	if b.prefix == "" {
		return b.shard + suffix
	}
	return b.prefix + "/" + b.shard + suffix
}

func (b *S3Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	client, err := b.ensureClient()
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(key)})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) putObject(ctx context.Context, key string, data []byte) error {
	client, err := b.ensureClient()
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *S3Backend) OpenSegment(segno uint64) (RandomAccessFile, error) {
	ctx := context.Background()
	key := b.key(fmt.Sprintf(".%d", segno))
	data, err := b.getObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("persist: segment %d: %w", segno, errNotExist)
	}
	return newBufferedObject(b, key, data), nil
}

func (b *S3Backend) CreateSegment(segno uint64, size int64) (RandomAccessFile, error) {
	key := b.key(fmt.Sprintf(".%d", segno))
	return newBufferedObject(b, key, make([]byte, size)), nil
}

func (b *S3Backend) RemoveSegment(segno uint64) error {
	client, err := b.ensureClient()
	if err != nil {
		return err
	}
	key := b.key(fmt.Sprintf(".%d", segno))
	_, err = client.DeleteObject(context.Background(), &s3.DeleteObjectInput{Bucket: aws.String(b.cfg.Bucket), Key: aws.String(key)})
	return err
}

func (b *S3Backend) ListSegments() ([]uint64, error) {
	client, err := b.ensureClient()
	if err != nil {
		return nil, err
	}
	prefix := b.key(".")
	out, err := client.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
		Bucket: aws.String(b.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, err
	}
	var segs []uint64
	for _, obj := range out.Contents {
		rest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if rest == "state" {
			continue
		}
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			continue
		}
		segs = append(segs, n)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	return segs, nil
}

func (b *S3Backend) ReadState() ([]byte, error) {
	return b.getObject(context.Background(), b.key(".state"))
}

func (b *S3Backend) WriteState(data []byte) error {
	return b.putObject(context.Background(), b.key(".state"), data)
}

func (b *S3Backend) Close() error { return nil }

var errNotExist = fmt.Errorf("persist: object does not exist: %w", fs.ErrNotExist)

// bufferedObject implements RandomAccessFile over an in-memory buffer that
// is flushed as a single PutObject whenever Sync is called (and once more
// on Close, in case the last write was not followed by an explicit Sync).
type bufferedObject struct {
	backend *S3Backend
	key     string

	mu    sync.Mutex
	buf   []byte
	dirty bool
}

func newBufferedObject(b *S3Backend, key string, initial []byte) *bufferedObject {
	return &bufferedObject{backend: b, key: key, buf: initial}
}

func (o *bufferedObject) ReadAt(p []byte, off int64) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if off >= int64(len(o.buf)) {
		return 0, io.EOF
	}
	n := copy(p, o.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *bufferedObject) WriteAt(p []byte, off int64) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(o.buf)) {
		grown := make([]byte, end)
		copy(grown, o.buf)
		o.buf = grown
	}
	copy(o.buf[off:end], p)
	o.dirty = true
	return len(p), nil
}

func (o *bufferedObject) Truncate(size int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if int64(len(o.buf)) == size {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, o.buf)
	o.buf = grown
	o.dirty = true
	return nil
}

func (o *bufferedObject) Sync() error {
	o.mu.Lock()
	if !o.dirty {
		o.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), o.buf...)
	o.dirty = false
	o.mu.Unlock()
	return o.backend.putObject(context.Background(), o.key, data)
}

func (o *bufferedObject) Close() error {
	return o.Sync()
}
