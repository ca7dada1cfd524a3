package filesystem

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/fserrors"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/ocipath"
)

// retryable reports whether err is a transient failure worth another try.
func retryable(err error) bool {
	switch fserrors.KindOf(err) {
	case fserrors.ResourceBusy, fserrors.RemoteIO:
		return true
	}
	return false
}

// rangeReader fetches byte ranges of one object.
type rangeReader struct {
	fs       *Filesystem
	store    objectstore.ObjectStore
	path     ocipath.LogicalPath
	attempts int
	log      logrus.FieldLogger
}

func newRangeReader(fs *Filesystem, p ocipath.LogicalPath) *rangeReader {
	return &rangeReader{
		fs:       fs,
		store:    fs.store(p),
		path:     p,
		attempts: fs.fetchAttempts,
		log:      fs.logger.WithField("path", p.String()),
	}
}

// fetchRange returns the bytes in [start, end). An empty range is returned
// without a request.
func (r *rangeReader) fetchRange(ctx context.Context, start, end int64) ([]byte, error) {
	if end <= start {
		return []byte{}, nil
	}
	rng := &objectstore.ByteRange{Start: start, End: end}

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var data []byte
		err = r.fs.withReauth(ctx, func() error {
			var err error
			data, err = r.store.GetObjectRange(ctx, &objectstore.GetObjectRequest{
				Namespace: r.path.Namespace,
				Bucket:    r.path.Container,
				Key:       r.path.Key,
				Range:     rng,
			})
			return err
		})
		if err == nil {
			if int64(len(data)) > rng.Len() {
				return nil, fserrors.New(fserrors.RemoteIO, "read", r.path.String(),
					"got more bytes (%d) than requested (%d)", len(data), rng.Len())
			}
			return data, nil
		}
		err = fserrors.Wrap(err, "read", r.path.String())
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		r.log.WithError(err).WithFields(logrus.Fields{
			"range":   fmt.Sprintf("%d-%d", start, end),
			"attempt": attempt,
		}).Debug("range fetch failed, retrying")
	}
	return nil, err
}
