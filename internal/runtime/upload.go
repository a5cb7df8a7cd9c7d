package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/szaher/designs/listingmock/internal/artifact"
)

const (
	// maxMemory is the part of a multipart body kept in memory while parsing.
	maxMemory = 8 << 20

	// formOverhead allows for boundaries and text fields on top of the files.
	formOverhead = 1 << 20

	persistConcurrency = 4

	// unlimitedFiles is the file count assumed for the body cap when
	// MaxFiles is 0.
	unlimitedFiles = 32
)

// bodyLimit is the largest request body that can hold files files of at
// most perFile bytes each. It saturates at math.MaxInt64.
func bodyLimit(perFile int64, files int) int64 {
	if files <= 0 {
		files = unlimitedFiles
	}
	if perFile > (math.MaxInt64-formOverhead)/int64(files) {
		return math.MaxInt64
	}
	return perFile*int64(files) + formOverhead
}

// parseForm parses a multipart or urlencoded body. Non-form bodies are not
// an error; the handlers report the missing fields instead.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, bodyLimit(s.config.MaxUploadBytes, s.config.MaxFiles))
	}

	err := r.ParseMultipartForm(maxMemory)
	if err == nil || errors.Is(err, http.ErrNotMultipart) {
		return nil
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func formFiles(r *http.Request, field string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	return r.MultipartForm.File[field]
}

// checkLimits applies MaxFiles to every file in the form and MaxUploadBytes
// to each one.
func (s *Server) checkLimits(r *http.Request) error {
	if r.MultipartForm == nil {
		return nil
	}
	total := 0
	for _, headers := range r.MultipartForm.File {
		total += len(headers)
		for _, fh := range headers {
			if s.config.MaxUploadBytes > 0 && fh.Size > s.config.MaxUploadBytes {
				return fmt.Errorf("%w: %s is %d bytes, limit is %d",
					artifact.ErrTooLarge, fh.Filename, fh.Size, s.config.MaxUploadBytes)
			}
		}
	}
	if s.config.MaxFiles > 0 && total > s.config.MaxFiles {
		return fmt.Errorf("%w: %d files, limit is %d", ErrTooManyFiles, total, s.config.MaxFiles)
	}
	return nil
}

// persist writes every file to the artifact store, a few at a time. The
// results keep the order of headers.
func (s *Server) persist(ctx context.Context, headers []*multipart.FileHeader) ([]artifact.Stored, error) {
	stored := make([]artifact.Stored, len(headers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(persistConcurrency)

	for i, fh := range headers {
		g.Go(func() error {
			f, err := fh.Open()
			if err != nil {
				return fmt.Errorf("%w: open %s: %v", ErrStorageFault, fh.Filename, err)
			}
			defer f.Close()

			st, err := s.store.Put(gctx, f, fh.Filename)
			if errors.Is(err, artifact.ErrTooLarge) {
				return err
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStorageFault, err)
			}
			s.metrics.RecordArtifact(s.store.Backend(), st.Size)
			stored[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stored, nil
}
