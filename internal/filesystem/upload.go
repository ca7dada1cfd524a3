package filesystem

import (
	"bytes"
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// State is the lifecycle state of an UploadSession.
type State int

const (
	StateOpen State = iota
	StateBuffering
	StateSingleShot
	StateMultipart
	StateCommitted
	StateAborted
)

var stateNames = map[State]string{
	StateOpen:       "open",
	StateBuffering:  "buffering",
	StateSingleShot: "single-shot",
	StateMultipart:  "multipart",
	StateCommitted:  "committed",
	StateAborted:    "aborted",
}

func (s State) String() string {
	return stateNames[s]
}

// UploadSession buffers writes to one object and uploads them, either as a
// single put or as a multipart upload once the buffer reaches the block
// size. A session belongs to a single writer and is not safe for concurrent
// use.
type UploadSession struct {
	fs          *Filesystem
	store       objectstore.ObjectStore
	path        ocipath.LogicalPath
	blockSize   int64
	maxPartSize int64
	autocommit  bool
	retries     int
	contentType string
	log         logrus.FieldLogger

	buf      bytes.Buffer
	loc      int64
	uploadID string
	parts    []objectstore.CommittedPart
	state    State
	closed   bool
	forced   bool
	err      error
}

type sessionOptions struct {
	blockSize   int64
	autocommit  bool
	retries     int
	contentType string
}

func newUploadSession(fs *Filesystem, p ocipath.LogicalPath, opts sessionOptions) (*UploadSession, error) {
	if opts.blockSize < MinBlockSize {
		return nil, fserrors.Invalid("open", p.String(), "block size must be at least %d bytes, got %d", MinBlockSize, opts.blockSize)
	}
	if opts.blockSize > MaxPartSize {
		return nil, fserrors.Invalid("open", p.String(), "block size must be at most %d bytes, got %d", MaxPartSize, opts.blockSize)
	}
	return &UploadSession{
		fs:          fs,
		store:       fs.store(p),
		path:        p,
		blockSize:   opts.blockSize,
		maxPartSize: MaxPartSize,
		autocommit:  opts.autocommit,
		retries:     opts.retries,
		contentType: opts.contentType,
		log:         fs.logger.WithField("path", p.String()),
	}, nil
}

// State returns the session's current state.
func (s *UploadSession) State() State {
	return s.state
}

// Parts returns the parts uploaded so far.
func (s *UploadSession) Parts() []objectstore.CommittedPart {
	return append([]objectstore.CommittedPart(nil), s.parts...)
}

// Written returns the number of bytes written to the session.
func (s *UploadSession) Written() int64 {
	return s.loc
}

func (s *UploadSession) done() bool {
	return s.state == StateCommitted || s.state == StateAborted
}

// Write buffers p, uploading parts whenever a full block is buffered.
func (s *UploadSession) Write(ctx context.Context, p []byte) (int, error) {
	if s.closed || s.done() {
		return 0, fserrors.Invalid("write", s.path.String(), "write to a closed file")
	}
	if s.err != nil {
		return 0, s.err
	}
	s.buf.Write(p)
	s.loc += int64(len(p))
	if s.state == StateOpen {
		s.state = StateBuffering
	}
	if int64(s.buf.Len()) >= s.blockSize {
		if err := s.Flush(ctx, false); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush uploads the buffer once it holds at least a block. With force set
// the buffer is uploaded regardless, and an autocommit session is then
// committed. A session can be force-flushed once.
func (s *UploadSession) Flush(ctx context.Context, force bool) error {
	if s.done() {
		return fserrors.Invalid("flush", s.path.String(), "flush of a closed file")
	}
	if s.err != nil {
		return s.err
	}
	if force {
		if s.forced {
			return fserrors.Invalid("flush", s.path.String(), "force flush cannot be called more than once")
		}
		s.forced = true
	}
	if !force && int64(s.buf.Len()) < s.blockSize {
		return nil
	}

	if s.uploadID == "" && s.buf.Len() > 0 && !s.singleShot(force) {
		if err := s.initiate(ctx); err != nil {
			return err
		}
	}
	if s.uploadID != "" {
		if err := s.uploadBuffer(ctx); err != nil {
			return err
		}
	}
	if s.autocommit && force {
		return s.Commit(ctx)
	}
	return nil
}

// singleShot reports whether a final flush should use one whole-object put.
func (s *UploadSession) singleShot(final bool) bool {
	return s.autocommit && final && s.loc < s.blockSize
}

func (s *UploadSession) initiate(ctx context.Context) error {
	var mpu *objectstore.MultipartUpload
	err := s.fs.withReauth(ctx, func() error {
		var err error
		mpu, err = s.store.CreateMultipartUpload(ctx, &objectstore.CreateMultipartUploadRequest{
			Namespace:   s.path.Namespace,
			Bucket:      s.path.Container,
			Key:         s.path.Key,
			ContentType: s.contentType,
		})
		return err
	})
	if err != nil {
		s.closed = true
		s.err = fserrors.Wrap(err, "create multipart upload", s.path.String())
		return s.err
	}
	s.uploadID = mpu.UploadID
	s.state = StateMultipart
	s.log.WithField("upload", s.uploadID).Debug("initiated multipart upload")
	return nil
}

// splitParts cuts data into blockSize slices. A short trailing slice is
// merged into the one before it; a merged slice larger than maxPartSize is
// bisected instead.
func splitParts(data []byte, blockSize, maxPartSize int64) [][]byte {
	var parts [][]byte
	for len(data) > 0 {
		n := int64(len(data))
		if n <= blockSize {
			parts = append(parts, data)
			break
		}
		rest := n - blockSize
		if rest < blockSize {
			if n <= maxPartSize {
				parts = append(parts, data)
			} else {
				half := n / 2
				parts = append(parts, data[:half], data[half:])
			}
			break
		}
		parts = append(parts, data[:blockSize])
		data = data[blockSize:]
	}
	return parts
}

func (s *UploadSession) uploadBuffer(ctx context.Context) error {
	for _, chunk := range splitParts(s.buf.Bytes(), s.blockSize, s.maxPartSize) {
		if err := s.uploadPart(ctx, chunk); err != nil {
			return err
		}
	}
	s.buf.Reset()
	return nil
}

// uploadPart uploads one part, retrying transient failures. A part is
// numbered by its 1-based position, and a retry resends the same number.
func (s *UploadSession) uploadPart(ctx context.Context, body []byte) error {
	var err error
	num := len(s.parts) + 1
	for attempt := 0; attempt <= s.retries; attempt++ {
		var res *objectstore.UploadPartResult
		err = s.fs.withReauth(ctx, func() error {
			var err error
			res, err = s.store.UploadPart(ctx, &objectstore.UploadPartRequest{
				Namespace:  s.path.Namespace,
				Bucket:     s.path.Container,
				Key:        s.path.Key,
				UploadID:   s.uploadID,
				PartNumber: num,
				Body:       body,
			})
			return err
		})
		if err == nil {
			s.parts = append(s.parts, objectstore.CommittedPart{PartNumber: num, ETag: res.ETag})
			s.log.WithFields(logrus.Fields{"part": num, "size": len(body)}).Debug("uploaded part")
			return nil
		}
		err = fserrors.Wrap(err, "upload part", s.path.String())
		if !retryable(err) {
			break
		}
		s.log.WithError(err).WithFields(logrus.Fields{"part": num, "attempt": attempt + 1}).Debug("part upload failed, retrying")
	}
	s.err = err
	return err
}

// Commit finalizes the object. Nothing written yields an empty object; a
// session that never started a multipart upload is sent as one put;
// otherwise the uploaded parts are committed in ascending order.
func (s *UploadSession) Commit(ctx context.Context) error {
	switch s.state {
	case StateCommitted:
		return nil
	case StateAborted:
		return fserrors.Invalid("commit", s.path.String(), "commit of a discarded file")
	}
	if s.err != nil {
		return s.err
	}

	var err error
	switch {
	case s.loc == 0:
		if s.uploadID != "" {
			if err := s.abort(ctx); err != nil {
				return err
			}
		}
		s.log.Debug("committing empty object")
		err = s.fs.putObject(ctx, s.path, nil, s.contentType)
	case len(s.parts) == 0 && s.buf.Len() > 0 && (s.uploadID == "" || s.autocommit):
		s.state = StateSingleShot
		s.log.WithField("size", s.buf.Len()).Debug("committing with a single put")
		err = s.fs.putObject(ctx, s.path, s.buf.Bytes(), s.contentType)
		if err == nil && s.uploadID != "" {
			err = s.abort(ctx)
		}
	default:
		if s.uploadID == "" {
			return fserrors.New(fserrors.InvalidArgument, "commit", s.path.String(), "nothing to commit")
		}
		if s.buf.Len() > 0 {
			if err := s.uploadBuffer(ctx); err != nil {
				return err
			}
		}
		err = s.commitParts(ctx)
	}
	if err != nil {
		s.err = err
		return err
	}

	s.state = StateCommitted
	s.closed = true
	s.buf = bytes.Buffer{}
	s.fs.invalidateAlong(s.path)
	return nil
}

func (s *UploadSession) commitParts(ctx context.Context) error {
	parts := append([]objectstore.CommittedPart(nil), s.parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	err := s.fs.withReauth(ctx, func() error {
		_, err := s.store.CommitMultipartUpload(ctx, &objectstore.CommitMultipartUploadRequest{
			Namespace: s.path.Namespace,
			Bucket:    s.path.Container,
			Key:       s.path.Key,
			UploadID:  s.uploadID,
			Parts:     parts,
		})
		return err
	})
	if err != nil {
		return fserrors.Wrap(err, "commit multipart upload", s.path.String())
	}
	s.log.WithFields(logrus.Fields{"upload": s.uploadID, "parts": len(parts)}).Debug("committed multipart upload")
	return nil
}

func (s *UploadSession) abort(ctx context.Context) error {
	id := s.uploadID
	err := s.fs.withReauth(ctx, func() error {
		return s.store.AbortMultipartUpload(ctx, &objectstore.AbortMultipartUploadRequest{
			Namespace: s.path.Namespace,
			Bucket:    s.path.Container,
			Key:       s.path.Key,
			UploadID:  id,
		})
	})
	if err != nil {
		return fserrors.Wrap(err, "abort multipart upload", s.path.String())
	}
	s.uploadID = ""
	return nil
}

// Discard aborts any open multipart upload and makes the session unusable.
// An abort failure is logged and returned, but the session is released
// either way.
func (s *UploadSession) Discard(ctx context.Context) error {
	if s.state == StateCommitted {
		return fserrors.Invalid("discard", s.path.String(), "discard of a committed file")
	}
	var err error
	if s.uploadID != "" {
		if err = s.abort(ctx); err != nil {
			s.log.WithError(err).WithField("upload", s.uploadID).Warn("failed to abort multipart upload")
		}
	}
	s.state = StateAborted
	s.closed = true
	s.buf = bytes.Buffer{}
	return err
}

// Close flushes what is buffered. An autocommit session is committed; any
// other session waits for Commit or Discard.
func (s *UploadSession) Close(ctx context.Context) error {
	if s.closed || s.done() {
		return nil
	}
	err := s.Flush(ctx, true)
	s.closed = true
	return err
}
