package s3client

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/objectstore"
)

const (
	// MaxCopySize is the largest object copied with a single request (5GiB)
	MaxCopySize = 5 * 1024 * 1024 * 1024
	// CopyPartSize is the part size used for multipart copies (512MiB)
	CopyPartSize = 512 * 1024 * 1024
)

// CreateMultipartUpload initiates a multipart upload
func (c *Client) CreateMultipartUpload(ctx context.Context, req *objectstore.CreateMultipartUploadRequest) (*objectstore.MultipartUpload, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	}
	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	result, err := c.client(req.Namespace).CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}
	if result.UploadId == nil {
		return nil, fmt.Errorf("upload ID is nil")
	}

	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "key": req.Key, "upload": *result.UploadId}).Debug("multipart upload created")
	return &objectstore.MultipartUpload{
		Namespace: req.Namespace,
		Bucket:    req.Bucket,
		Key:       req.Key,
		UploadID:  *result.UploadId,
	}, nil
}

// UploadPart uploads a single part of a multipart upload
func (c *Client) UploadPart(ctx context.Context, req *objectstore.UploadPartRequest) (*objectstore.UploadPartResult, error) {
	c.logger.WithFields(logrus.Fields{"container": req.Bucket, "key": req.Key, "part": req.PartNumber, "size": len(req.Body)}).Debug("upload part")
	result, err := c.client(req.Namespace).UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(req.Bucket),
		Key:           aws.String(req.Key),
		PartNumber:    aws.Int32(int32(req.PartNumber)),
		UploadId:      aws.String(req.UploadID),
		Body:          bytes.NewReader(req.Body),
		ContentLength: aws.Int64(int64(len(req.Body))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload part %d: %w", req.PartNumber, err)
	}
	if result.ETag == nil {
		return nil, fmt.Errorf("ETag is nil for part %d", req.PartNumber)
	}
	return &objectstore.UploadPartResult{ETag: trimETag(result.ETag)}, nil
}

func completedParts(parts []objectstore.CommittedPart) []types.CompletedPart {
	sorted := make([]objectstore.CommittedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	out := make([]types.CompletedPart, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		})
	}
	return out
}

// CommitMultipartUpload completes a multipart upload with the parts listed
// in ascending part-number order
func (c *Client) CommitMultipartUpload(ctx context.Context, req *objectstore.CommitMultipartUploadRequest) (*objectstore.PutObjectResult, error) {
	result, err := c.client(req.Namespace).CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(req.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(req.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts(req.Parts),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return &objectstore.PutObjectResult{ETag: trimETag(result.ETag)}, nil
}

// AbortMultipartUpload aborts a multipart upload
func (c *Client) AbortMultipartUpload(ctx context.Context, req *objectstore.AbortMultipartUploadRequest) error {
	_, err := c.client(req.Namespace).AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(req.Bucket),
		Key:      aws.String(req.Key),
		UploadId: aws.String(req.UploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	return nil
}

// copyPart copies bytes [start, end) of the source into one part
func (c *Client) copyPart(ctx context.Context, req *objectstore.CopyObjectRequest, uploadID string, partNumber int, start, end int64) (string, error) {
	result, err := c.client(req.SourceNamespace).UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(req.DestinationBucket),
		Key:             aws.String(req.DestinationKey),
		PartNumber:      aws.Int32(int32(partNumber)),
		UploadId:        aws.String(uploadID),
		CopySource:      aws.String(copySource(req.SourceBucket, req.SourceKey)),
		CopySourceRange: aws.String(objectstore.ByteRange{Start: start, End: end}.Header()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy part %d: %w", partNumber, err)
	}
	if result.CopyPartResult == nil || result.CopyPartResult.ETag == nil {
		return "", fmt.Errorf("ETag is nil for copied part %d", partNumber)
	}
	return trimETag(result.CopyPartResult.ETag), nil
}

// copyObjectMultipart copies an object too large for a single copy request
func (c *Client) copyObjectMultipart(ctx context.Context, req *objectstore.CopyObjectRequest, size int64) error {
	upload, err := c.CreateMultipartUpload(ctx, &objectstore.CreateMultipartUploadRequest{
		Namespace: req.SourceNamespace,
		Bucket:    req.DestinationBucket,
		Key:       req.DestinationKey,
	})
	if err != nil {
		return err
	}
	abort := func() {
		err := c.AbortMultipartUpload(ctx, &objectstore.AbortMultipartUploadRequest{
			Namespace: upload.Namespace,
			Bucket:    upload.Bucket,
			Key:       upload.Key,
			UploadID:  upload.UploadID,
		})
		if err != nil {
			c.logger.WithError(err).WithField("key", upload.Key).Warn("failed to abort multipart copy")
		}
	}

	var parts []objectstore.CommittedPart
	for start := int64(0); start < size; start += CopyPartSize {
		end := start + CopyPartSize
		if end > size {
			end = size
		}
		partNumber := len(parts) + 1
		etag, err := c.copyPart(ctx, req, upload.UploadID, partNumber, start, end)
		if err != nil {
			abort()
			return err
		}
		parts = append(parts, objectstore.CommittedPart{PartNumber: partNumber, ETag: etag})
	}

	_, err = c.CommitMultipartUpload(ctx, &objectstore.CommitMultipartUploadRequest{
		Namespace: upload.Namespace,
		Bucket:    upload.Bucket,
		Key:       upload.Key,
		UploadID:  upload.UploadID,
		Parts:     parts,
	})
	if err != nil {
		abort()
		return fmt.Errorf("failed to complete multipart copy: %w", err)
	}
	return nil
}
