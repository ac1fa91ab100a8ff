package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// API is the subset of *s3.Client the file system needs.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// FS is a read-only fs.FS over the objects below a bucket prefix. An object
// key is a file; a key prefix followed by "/" that has objects below it is a
// directory.
type FS struct {
	api     API
	bucket  string
	prefix  string
	timeout time.Duration
}

var (
	_ fs.FS     = (*FS)(nil)
	_ fs.StatFS = (*FS)(nil)
)

func NewFS(api API, bucket, prefix string, timeout time.Duration) (*FS, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix != "" {
		prefix += "/"
	}

	return &FS{
		api:     api,
		bucket:  bucket,
		prefix:  prefix,
		timeout: timeout,
	}, nil
}

// Bucket returns the bucket name.
func (f *FS) Bucket() string {
	return f.bucket
}

// Prefix returns the normalized key prefix, empty or ending in "/".
func (f *FS) Prefix() string {
	return f.prefix
}

func (f *FS) key(name string) string {
	if name == "." {
		return f.prefix
	}
	return f.prefix + name
}

func (f *FS) newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.timeout)
}

// Stat uses HeadObject so a stat never downloads the object body.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}

	ctx, cancel := f.newContext()
	defer cancel()

	if name != "." {
		out, err := f.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(f.key(name)),
		})
		if err == nil {
			return fileInfo{
				name:    path.Base(name),
				size:    aws.ToInt64(out.ContentLength),
				modTime: aws.ToTime(out.LastModified),
			}, nil
		}
		if !isNotFound(err) {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
		}
	}

	return f.statDir(ctx, "stat", name)
}

func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	ctx, cancel := f.newContext()
	defer cancel()

	if name != "." {
		out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(f.key(name)),
		})
		if err == nil {
			defer out.Body.Close()
			data, err := io.ReadAll(out.Body)
			if err != nil {
				return nil, &fs.PathError{Op: "open", Path: name, Err: err}
			}
			return &file{
				Reader: bytes.NewReader(data),
				info: fileInfo{
					name:    path.Base(name),
					size:    int64(len(data)),
					modTime: aws.ToTime(out.LastModified),
				},
			}, nil
		}
		if !isNotFound(err) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
	}

	info, err := f.statDir(ctx, "open", name)
	if err != nil {
		return nil, err
	}
	return &dir{info: info, name: name}, nil
}

func (f *FS) statDir(ctx context.Context, op, name string) (fs.FileInfo, error) {
	dirPrefix := f.key(name)
	if name != "." {
		dirPrefix += "/"
	}

	out, err := f.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(dirPrefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}

	return fileInfo{name: path.Base(name), dir: true}, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return i.size }
func (i fileInfo) ModTime() time.Time { return i.modTime }
func (i fileInfo) IsDir() bool        { return i.dir }
func (i fileInfo) Sys() any           { return nil }

func (i fileInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

// file holds the whole object in memory so it can be seeked for range requests.
type file struct {
	*bytes.Reader
	info fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *file) Close() error               { return nil }

type dir struct {
	info fs.FileInfo
	name string
}

func (d *dir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dir) Close() error               { return nil }

func (d *dir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: errors.New("is a directory")}
}
