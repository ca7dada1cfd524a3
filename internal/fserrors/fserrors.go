// Package fserrors maps object storage failures onto the small set of error
// kinds the filesystem exposes.
package fserrors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"syscall"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/ocifs/ocifs-go/internal/objectstore"
)

// Kind classifies a filesystem error.
type Kind int

const (
	Unknown Kind = iota
	InvalidArgument
	NotFound
	PermissionDenied
	Conflict
	ResourceBusy
	RemoteIO
	NotImplemented
)

var kindNames = map[Kind]string{
	Unknown:          "unknown",
	InvalidArgument:  "invalid argument",
	NotFound:         "not found",
	PermissionDenied: "permission denied",
	Conflict:         "conflict",
	ResourceBusy:     "resource busy",
	RemoteIO:         "remote I/O error",
	NotImplemented:   "not implemented",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Error lets a Kind be used as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// ErrNotEmpty marks an InvalidArgument raised for a non-empty directory.
var ErrNotEmpty = errors.New("directory is not empty")

// Error is a classified filesystem error.
type Error struct {
	Kind Kind
	Op   string
	Path string
	// Status and Code are set when the error came from the backend.
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a bare Kind against the error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New returns a local (non-remote) error of the given kind.
func New(kind Kind, op, path, format string, args ...interface{}) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Path: path,
		Err:  fmt.Errorf(format, args...),
	}
}

// Invalid is shorthand for New(InvalidArgument, ...).
func Invalid(op, path, format string, args ...interface{}) *Error {
	return New(InvalidArgument, op, path, format, args...)
}

// Wrap translates err and records the operation and path on it.
func Wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	terr := Translate(err)
	var e *Error
	if !errors.As(terr, &e) {
		return terr
	}
	if e.Op == "" && e.Path == "" {
		cp := *e
		cp.Op = op
		cp.Path = path
		return &cp
	}
	return terr
}

// KindOf returns the kind of err, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsAuthFailure reports whether err is an authentication failure that a
// credential refresh could fix.
func IsAuthFailure(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != PermissionDenied {
		return false
	}
	switch e.Status {
	case 401, 402, 403:
		return true
	}
	return false
}

// Errno maps err to the errno reported through a FUSE mount.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if errors.Is(err, ErrNotEmpty) {
		return syscall.ENOTEMPTY
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syscall.EINTR
	}
	var e *Error
	if !errors.As(err, &e) {
		return syscall.EIO
	}
	switch e.Kind {
	case InvalidArgument:
		return syscall.EINVAL
	case NotFound:
		return syscall.ENOENT
	case PermissionDenied:
		if e.Status == 405 {
			return syscall.EPERM
		}
		return syscall.EACCES
	case Conflict, ResourceBusy:
		return syscall.EBUSY
	case NotImplemented:
		return syscall.ENOSYS
	}
	return syscall.EIO
}

// Translate converts a backend error into an *Error. Errors that are already
// classified, and context cancellation, are returned unchanged.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if cerr := (interface{ CanceledError() bool })(nil); errors.As(err, &cerr) && cerr.CanceledError() {
		return context.Canceled
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rerr *objectstore.RemoteError
	if errors.As(err, &rerr) {
		return classify(rerr.Code, rerr.Status, err)
	}

	var aerr smithy.APIError
	if errors.As(err, &aerr) {
		status := 0
		var herr *awshttp.ResponseError
		if errors.As(err, &herr) {
			status = herr.HTTPStatusCode()
		}
		return classify(aerr.ErrorCode(), status, err)
	}

	var herr *awshttp.ResponseError
	if errors.As(err, &herr) {
		return classify("", herr.HTTPStatusCode(), err)
	}

	return &Error{Kind: RemoteIO, Err: err}
}

func classify(code string, status int, err error) *Error {
	kind, ok := codeKinds[code]
	if !ok {
		kind, ok = statusKinds[status]
	}
	if !ok {
		kind = RemoteIO
	}
	return &Error{
		Kind:   kind,
		Status: status,
		Code:   code,
		Err:    err,
	}
}

var codeKinds = map[string]Kind{
	// OCI service codes
	"CannotParseRequest":                     InvalidArgument,
	"InvalidParameter":                       InvalidArgument,
	"LimitExceeded":                          InvalidArgument,
	"MissingParameter":                       InvalidArgument,
	"QuotaExceeded":                          InvalidArgument,
	"RelatedResourceNotAuthorizedOrNotFound": InvalidArgument,
	"NoEtagMatch":                            InvalidArgument,
	"NotAuthenticated":                       PermissionDenied,
	"SignUpRequired":                         PermissionDenied,
	"NotAuthorized":                          PermissionDenied,
	"MethodNotAllowed":                       PermissionDenied,
	"NotAuthorizedOrNotFound":                NotFound,
	"NotFound":                               NotFound,
	"BucketNotFound":                         NotFound,
	"ObjectNotFound":                         NotFound,
	"IncorrectState":                         Conflict,
	"InvalidatedRetryToken":                  Conflict,
	"NotAuthorizedOrResourceAlreadyExists":   Conflict,
	"BucketAlreadyExists":                    Conflict,
	"BucketNotEmpty":                         Conflict,
	"TooManyRequests":                        ResourceBusy,
	"ServiceUnavailable":                     ResourceBusy,
	"InternalServerError":                    RemoteIO,
	"MethodNotImplemented":                   NotImplemented,

	// S3 compatibility codes
	"NoSuchKey":               NotFound,
	"NoSuchBucket":            NotFound,
	"NoSuchUpload":            NotFound,
	"AccessDenied":            PermissionDenied,
	"InvalidAccessKeyId":      PermissionDenied,
	"SignatureDoesNotMatch":   PermissionDenied,
	"BucketAlreadyOwnedByYou": Conflict,
	"SlowDown":                ResourceBusy,
	"InvalidArgument":         InvalidArgument,
	"InvalidRange":            InvalidArgument,
	"InvalidPart":             InvalidArgument,
	"InvalidPartOrder":        InvalidArgument,
	"EntityTooSmall":          InvalidArgument,
	"InternalError":           RemoteIO,
	"NotImplemented":          NotImplemented,
}

var statusKinds = map[int]Kind{
	400: InvalidArgument,
	412: InvalidArgument,
	401: PermissionDenied,
	402: PermissionDenied,
	403: PermissionDenied,
	405: PermissionDenied,
	404: NotFound,
	409: Conflict,
	429: ResourceBusy,
	503: ResourceBusy,
	500: RemoteIO,
	501: NotImplemented,
}
