package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// APIError is a request failure with the HTTP status and machine-readable
// code it is reported with.
type APIError struct {
	// Status is the HTTP status code to return.
	Status int
	// Code is a short error code, e.g. "NoSuchBlob".
	Code string
	// Message is a human-readable description of the error.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

var errRangeNotSatisfiable = &APIError{
	Status:  http.StatusRequestedRangeNotSatisfiable,
	Code:    "InvalidRange",
	Message: "The requested range is not satisfiable",
}

func badRequest(code, msg string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: code, Message: msg}
}

func errUnknownStore(name string) *APIError {
	return &APIError{Status: http.StatusNotFound, Code: "NoSuchStore", Message: "unknown store " + strconv.Quote(name)}
}

// classify maps an error from the blob layer to its API error. Unexpected
// errors come back as nil.
func classify(err error) *APIError {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, blobstore.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "NoSuchBlob", Message: err.Error()}
	case errors.Is(err, blobstore.ErrAlreadyExists):
		return &APIError{Status: http.StatusPreconditionFailed, Code: "BlobAlreadyExists", Message: err.Error()}
	case errors.Is(err, blobstore.ErrSameLocation):
		return badRequest("SameLocation", err.Error())
	case errors.Is(err, blobpath.ErrInvalidPath):
		return badRequest("InvalidPath", err.Error())
	case errors.Is(err, blobstore.ErrPartialDelete):
		return &APIError{Status: http.StatusInternalServerError, Code: "PartialDelete", Message: err.Error()}
	}
	return nil
}

// writeError renders err as a JSON error response. Unexpected errors are
// logged and reported as 500 without their details.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := classify(err)
	if apiErr == nil {
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		apiErr = &APIError{Status: http.StatusInternalServerError, Code: "InternalError", Message: "We encountered an internal error. Please try again."}
	} else if apiErr.Status >= http.StatusInternalServerError {
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, apiErr.Status, ErrorBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Code: code, Message: msg})
}

// parseRange parses a Range header against a blob of size bytes. Supports
// a single range in one of three forms:
//   - bytes=0-4   (first 5 bytes)
//   - bytes=5-    (from byte 5 to end)
//   - bytes=-10   (last 10 bytes)
//
// An empty header returns partial == false. Every malformed or
// unsatisfiable range returns errRangeNotSatisfiable.
func parseRange(header string, size int64) (rng blobstore.ByteRange, partial bool, err error) {
	if header == "" {
		return blobstore.ByteRange{}, false, nil
	}
	fail := func(format string, args ...any) (blobstore.ByteRange, bool, error) {
		return blobstore.ByteRange{}, false, fmt.Errorf("%w: "+format, append([]any{errRangeNotSatisfiable}, args...)...)
	}
	if size == 0 {
		return fail("empty blob")
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return fail("missing bytes= prefix")
	}
	if strings.Contains(spec, ",") {
		return fail("multi-range not supported")
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)
	if !ok || (startStr == "" && endStr == "") {
		return fail("invalid range spec %q", spec)
	}

	if startStr == "" {
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n <= 0 {
			return fail("invalid suffix length %q", endStr)
		}
		return blobstore.ByteRange{Start: max(size-n, 0), End: size}, true, nil
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || start < 0 {
		return fail("invalid range start %q", startStr)
	}
	if start >= size {
		return fail("range start %d beyond blob size %d", start, size)
	}
	if endStr == "" {
		return blobstore.ByteRange{Start: start, End: size}, true, nil
	}
	last, perr := strconv.ParseInt(endStr, 10, 64)
	if perr != nil || last < start {
		return fail("invalid range end %q", endStr)
	}
	return blobstore.ByteRange{Start: start, End: min(last+1, size)}, true, nil
}
