// Package source loads vault container bytes from local files, standard
// input or S3 objects.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

// Stdin is the reference that reads standard input.
const Stdin = "-"

// Errors returned while loading inputs.
var (
	ErrTooLarge    = errors.New("input exceeds size limit")
	ErrStdinReused = errors.New("standard input can only be read once")
	ErrNoS3        = errors.New("s3 inputs need an s3 client")
)

// Kind is where a reference points.
type Kind int

const (
	KindFile Kind = iota
	KindStdin
	KindS3
)

// Ref is a parsed input reference.
type Ref struct {
	Kind   Kind
	Path   string // file path
	Bucket string // s3 bucket
	Key    string // s3 object key
}

// ParseRef classifies a reference: "-" is stdin, "s3://bucket/key" an S3
// object, anything else a local path.
func ParseRef(ref string) (Ref, error) {
	switch {
	case ref == "":
		return Ref{}, errors.New("empty input reference")
	case ref == Stdin:
		return Ref{Kind: KindStdin}, nil
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("invalid s3 reference %q", ref)
		}
		return Ref{Kind: KindS3, Bucket: bucket, Key: key}, nil
	default:
		return Ref{Kind: KindFile, Path: ref}, nil
	}
}

// String returns the reference in its input form.
func (r Ref) String() string {
	switch r.Kind {
	case KindStdin:
		return Stdin
	case KindS3:
		return "s3://" + r.Bucket + "/" + r.Key
	default:
		return r.Path
	}
}

// S3Factory creates the S3 client on first use.
type S3Factory func(ctx context.Context) (S3API, error)

// Loader reads inputs with a size limit.
type Loader struct {
	cfg    config.SourceConfig
	stdin  io.Reader
	logger *events.Logger

	s3Once    sync.Once
	s3Factory S3Factory
	s3        S3API
	s3Err     error

	mu        sync.Mutex
	stdinUsed bool
}

// NewLoader creates a loader. s3 may be nil when S3 inputs are not needed.
func NewLoader(cfg config.SourceConfig, stdin io.Reader, s3 S3Factory, logger *events.Logger) *Loader {
	if logger == nil {
		logger = events.Discard()
	}
	return &Loader{
		cfg:       cfg,
		stdin:     stdin,
		s3Factory: s3,
		logger:    logger.WithField("component", "source"),
	}
}

// Load returns the full content of ref. The caller owns the bytes.
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch r.Kind {
	case KindStdin:
		data, err = l.loadStdin()
	case KindS3:
		data, err = l.loadS3(ctx, r)
	default:
		data, err = l.loadFile(r.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", r, err)
	}

	l.logger.WithFields(map[string]interface{}{
		"input": r.String(),
		"size":  len(data),
	}).Debug("Loaded input")
	return data, nil
}

func (l *Loader) loadStdin() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stdinUsed {
		return nil, ErrStdinReused
	}
	l.stdinUsed = true
	if l.stdin == nil {
		return nil, errors.New("no standard input")
	}
	return l.readLimited(l.stdin)
}

func (l *Loader) client(ctx context.Context) (S3API, error) {
	l.s3Once.Do(func() {
		if l.s3Factory == nil {
			l.s3Err = ErrNoS3
			return
		}
		l.s3, l.s3Err = l.s3Factory(ctx)
	})
	return l.s3, l.s3Err
}

// readLimited reads r fully, failing once it passes the configured limit.
func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	limit := l.cfg.MaxFileSize
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		wipe(data)
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return data, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
