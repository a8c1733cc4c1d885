package api

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// maxUploadBytes caps a single uploaded log before decompression
const maxUploadBytes = 256 << 20

// handleUploadLog stores an uploaded log snapshot for a server and runs
// ingestion on it straight away. The body is either a multipart form with
// a "file" part or the raw log; gzip and zstd are accepted.
func (r *Router) handleUploadLog(w http.ResponseWriter, req *http.Request) {
	id, err := parseServerID(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	body, encoding, err := uploadBody(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer body.Close()

	content, err := decompress(body, encoding)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer content.Close()

	// Peek so an empty upload never replaces the stored log
	buffered := bufio.NewReader(content)
	if _, err := buffered.Peek(1); err != nil {
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "log file is empty")
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	n, err := r.runner.Logs().Store(id, buffered)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "log file too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	r.logger.Info("log uploaded", zap.Int64("server_id", id), zap.Int64("bytes", n))

	summary, err := r.scheduler.Trigger(req.Context(), id)
	r.writeRunResult(w, summary, err)
}

// uploadBody returns the log stream and its encoding, taken from the
// part's file name for multipart uploads and from Content-Encoding
// otherwise
func uploadBody(req *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if req.Body == nil || req.Body == http.NoBody {
			return nil, "", errors.New("log file body required")
		}
		return req.Body, req.Header.Get("Content-Encoding"), nil
	}

	reader, err := req.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("reading multipart form: %w", err)
	}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, "", errors.New("multipart form has no file part")
		}
		if err != nil {
			return nil, "", fmt.Errorf("reading multipart form: %w", err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		return part, encodingFromName(part.FileName()), nil
	}
}

func encodingFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gz":
		return "gzip"
	case ".zst":
		return "zstd"
	default:
		return ""
	}
}

func decompress(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		return zr, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("invalid zstd body: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
