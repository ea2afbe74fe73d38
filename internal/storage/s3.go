package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of *s3.Client this package depends on, so tests can
// substitute a fake.
type S3Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 publishes to a bucket/prefix pair. A PutObject call is itself atomic
// from a reader's perspective, so no staging is needed here the way Local
// needs a temp file.
type S3 struct {
	Client S3Client
	Bucket string
	Prefix string
}

var _ Storage = (*S3)(nil)

func (s *S3) key(path string) string {
	return strings.TrimPrefix(strings.TrimSuffix(s.Prefix, "/")+"/"+strings.TrimPrefix(path, "/"), "/")
}

func (s *S3) Read(ctx context.Context, path string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) WriteAtomic(ctx context.Context, path string, data io.Reader, size int64, contentType string) error {
	// PutObjectInput.Body needs to be re-readable by the SDK's retry
	// middleware, so whenever size is known (>= 0) the whole payload is
	// buffered in memory rather than handing it a non-seekable stream.
	var body io.Reader = data
	if size >= 0 {
		buf := make([]byte, 0, size)
		b := bytes.NewBuffer(buf)
		if _, err := io.Copy(b, data); err != nil {
			return err
		}
		body = bytes.NewReader(b.Bytes())
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(path)),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := s.Client.PutObject(ctx, in)
	return err
}

func (s *S3) Delete(ctx context.Context, path string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.key(path)),
	})
	return err
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	var token *string
	for {
		resp, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(s.key(prefix)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range resp.Contents {
			out = append(out, strings.TrimPrefix(aws.ToString(obj.Key), strings.TrimSuffix(s.Prefix, "/")+"/"))
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}
