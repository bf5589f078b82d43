// Package compare runs the full pipeline for a pair of vault files: parse,
// decrypt, decode, diff and wipe.
package compare

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/crypto"
	"github.com/TheMichaelB/kdbxdiff/internal/diff"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
	"github.com/TheMichaelB/kdbxdiff/internal/kdbx"
	"github.com/TheMichaelB/kdbxdiff/internal/models"
	"github.com/TheMichaelB/kdbxdiff/internal/payload"
)

// Input is one side of a comparison. Compare takes ownership of
// Credentials and wipes them before returning.
type Input struct {
	Name        string
	Data        []byte
	Credentials crypto.Credentials
}

// Service compares vault files.
type Service struct {
	crypto crypto.Provider
	cfg    config.CompareConfig
	reveal diff.RevealIntent
	logger *events.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithReveal keeps sensitive values in the change set for display.
func WithReveal(intent diff.RevealIntent) Option {
	return func(s *Service) { s.reveal = intent }
}

// NewService creates a comparison service.
func NewService(provider crypto.Provider, cfg config.CompareConfig, logger *events.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = events.Discard()
	}
	s := &Service{
		crypto: provider,
		cfg:    cfg,
		logger: logger.WithField("service", "compare"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compare decodes both inputs and reports how b differs from a. Errors
// carry the name of the failing input as a *models.FileError.
func (s *Service) Compare(ctx context.Context, a, b Input) (*Result, error) {
	defer a.Credentials.Wipe()
	defer b.Credentials.Wipe()

	start := time.Now()
	var (
		before, after *decoded
		err           error
	)
	if s.cfg.ParallelDecode {
		before, after, err = s.decodeParallel(ctx, a, b)
	} else {
		before, after, err = s.decodeSequential(ctx, a, b)
	}
	if err != nil {
		return nil, err
	}
	defer before.tree.Wipe()
	defer after.tree.Wipe()

	diffStart := time.Now()
	changes := diff.Compare(before.tree, after.tree, diff.Options{
		Reveal:       s.reveal,
		IgnoreFields: s.cfg.IgnoreFields,
	})

	s.logger.WithFields(map[string]interface{}{
		"changes":  changes.Len(),
		"diff_ms":  time.Since(diffStart).Milliseconds(),
		"total_ms": time.Since(start).Milliseconds(),
	}).Info("Comparison complete")

	return &Result{
		Before:  before.info,
		After:   after.info,
		Changes: changes,
		Elapsed: time.Since(start),
	}, nil
}

type decoded struct {
	tree *models.Tree
	info models.ContainerInfo
}

func (s *Service) decodeSequential(ctx context.Context, a, b Input) (*decoded, *decoded, error) {
	before, err := s.decode(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	after, err := s.decode(ctx, b)
	if err != nil {
		before.tree.Wipe()
		return nil, nil, err
	}
	return before, after, nil
}

func (s *Service) decodeParallel(ctx context.Context, a, b Input) (*decoded, *decoded, error) {
	var before, after *decoded
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		before, err = s.decode(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		after, err = s.decode(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		if before != nil {
			before.tree.Wipe()
		}
		if after != nil {
			after.tree.Wipe()
		}
		return nil, nil, err
	}
	return before, after, nil
}

// decode runs parse, decrypt and decode for one input.
func (s *Service) decode(ctx context.Context, in Input) (*decoded, error) {
	fail := func(err error) (*decoded, error) {
		return nil, &models.FileError{Name: in.Name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	start := time.Now()
	logger := s.logger.WithField("input", in.Name)

	h, sealed, err := kdbx.Parse(in.Data)
	if err != nil {
		logger.WithError(err).Debug("Header rejected")
		return fail(err)
	}
	info := containerInfo(in, h)

	logger.WithFields(map[string]interface{}{
		"version": info.Version,
		"cipher":  info.Cipher,
		"kdf":     info.KDF,
	}).Info("Deriving key")

	content, err := s.crypto.Open(h, sealed, in.Credentials)
	if err != nil {
		logger.WithField("code", models.Code(err)).Debug("Decryption failed")
		return fail(err)
	}
	defer crypto.Wipe(content)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	tree, err := payload.Decode(h, content, payload.Options{SkipRecycleBin: s.cfg.SkipRecycleBin})
	if err != nil {
		logger.WithField("code", models.Code(err)).Debug("Payload rejected")
		return fail(err)
	}

	info.Groups, info.Entries = tree.Counts()
	info.Generator = tree.Generator
	info.Database = tree.DatabaseName
	info.DecodeTime = time.Since(start)

	logger.WithFields(map[string]interface{}{
		"groups":  info.Groups,
		"entries": info.Entries,
		"ms":      info.DecodeTime.Milliseconds(),
	}).Debug("Vault decoded")

	return &decoded{tree: tree, info: info}, nil
}

func containerInfo(in Input, h *kdbx.Header) models.ContainerInfo {
	sum := sha256.Sum256(in.Data)
	info := models.ContainerInfo{
		Name:        in.Name,
		SHA256:      hex.EncodeToString(sum[:]),
		Size:        len(in.Data),
		Version:     h.Version(),
		Cipher:      h.Cipher.String(),
		KDF:         h.KDF.Algorithm.String(),
		Compression: h.Compression.String(),
	}
	if !h.IsV4() {
		info.InnerStream = h.InnerStream.String()
	}
	return info
}
