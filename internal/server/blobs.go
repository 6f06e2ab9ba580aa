package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bleepstore/s3blob/internal/blobpath"
	"github.com/bleepstore/s3blob/internal/blobstore"
)

// Request and response headers of the blob routes.
const (
	headerCopySource = "X-Copy-Source"
	headerMove       = "X-Move"
	// metaHeaderPrefix is the canonical form of "x-amz-meta-" as produced by
	// Go's textproto.CanonicalMIMEHeaderKey.
	metaHeaderPrefix = "X-Amz-Meta-"
)

// BlobInfo describes one blob in JSON responses.
type BlobInfo struct {
	Store        string            `json:"store"`
	Path         string            `json:"path"`
	Size         *int64            `json:"size,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
	Source       string            `json:"source,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ListResponse is the body of GET /v1/{store}/{path}?list.
type ListResponse struct {
	Store  string   `json:"store"`
	Prefix string   `json:"prefix"`
	Blobs  []string `json:"blobs"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parsePath(raw string) (blobpath.Path, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return blobpath.Root(), nil
	}
	p, err := blobpath.Parse(raw)
	if err != nil {
		return blobpath.Path{}, badRequest("InvalidPath", err.Error())
	}
	return p, nil
}

func requireBlob(p blobpath.Path) error {
	if p.IsRoot() {
		return badRequest("InvalidPath", "a blob path is required")
	}
	return nil
}

func (s *Server) listStores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"stores": s.stores.Names()})
}

// getBlob serves GET and HEAD. A single "bytes=" range is honoured with 206.
func (s *Server) getBlob(w http.ResponseWriter, r *http.Request, b blobstore.Backend, p blobpath.Path, withBody bool) {
	ctx := r.Context()
	if err := requireBlob(p); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	var (
		size int64
		info *blobstore.ObjectInfo
		err  error
	)
	if st, ok := b.(*blobstore.Store); ok {
		info, err = st.GetBlob(p).Stat(ctx)
		if info != nil {
			size = info.Size
		}
	} else {
		size, err = b.Size(ctx, p)
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	rng, partial, err := parseRange(r.Header.Get("Range"), size)
	if err != nil {
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		}
		writeError(w, r, s.logger, err)
		return
	}

	status, length := http.StatusOK, size
	var body io.ReadCloser
	if partial {
		status, length = http.StatusPartialContent, rng.End-rng.Start
	}
	if withBody {
		var rp *blobstore.ByteRange
		if partial {
			rp = &rng
		}
		body, err = b.NewReader(ctx, p, rp)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		defer body.Close()
	}

	h := w.Header()
	if info != nil {
		setInfoHeaders(h, info)
	}
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	if partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.Start, rng.End-1, size))
	}
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("Failed to stream blob", "store", b.Name(), "path", p.String(), "error", err)
	}
}

func setInfoHeaders(h http.Header, info *blobstore.ObjectInfo) {
	md := info.Metadata
	ct := md.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	if info.ETag != "" {
		h.Set("ETag", info.ETag)
	}
	if !info.LastModified.IsZero() {
		h.Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	for name, value := range map[string]string{
		"Content-Encoding":    md.ContentEncoding,
		"Content-Disposition": md.ContentDisposition,
		"Content-Language":    md.ContentLanguage,
		"Cache-Control":       md.CacheControl,
	} {
		if value != "" {
			h.Set(name, value)
		}
	}
	for k, v := range md.User {
		h.Set(metaHeaderPrefix+k, v)
	}
}

// metadataFromHeaders collects the object metadata sent with a PUT.
func metadataFromHeaders(h http.Header) blobstore.ObjectMetadata {
	md := blobstore.ObjectMetadata{
		ContentType:        h.Get("Content-Type"),
		ContentEncoding:    h.Get("Content-Encoding"),
		ContentDisposition: h.Get("Content-Disposition"),
		ContentLanguage:    h.Get("Content-Language"),
		CacheControl:       h.Get("Cache-Control"),
	}
	for key, values := range h {
		name, ok := strings.CutPrefix(key, metaHeaderPrefix)
		if !ok || len(values) == 0 {
			continue
		}
		if md.User == nil {
			md.User = make(map[string]string)
		}
		md.User[strings.ToLower(name)] = values[0]
	}
	return md
}

func (s *Server) putBlob(w http.ResponseWriter, r *http.Request, b blobstore.Backend, p blobpath.Path) {
	ctx := r.Context()
	if err := requireBlob(p); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	opts := []blobstore.WriterOption{blobstore.WithMetadata(metadataFromHeaders(r.Header))}
	switch inm := r.Header.Get("If-None-Match"); inm {
	case "":
	case "*":
		opts = append(opts, blobstore.WithWriteMode(blobstore.CreateNew))
	default:
		writeError(w, r, s.logger, badRequest("InvalidRequest", "If-None-Match only supports *"))
		return
	}

	bw, err := b.NewWriter(ctx, p, opts...)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	n, err := io.Copy(bw, r.Body)
	if err != nil {
		if aerr := bw.Abort(); aerr != nil {
			s.logger.Warn("Failed to abort blob writer", "store", b.Name(), "path", p.String(), "error", aerr)
		}
		writeError(w, r, s.logger, err)
		return
	}
	if err := bw.Close(); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, BlobInfo{Store: b.Name(), Path: p.String(), Size: &n})
}

// copyBlob handles PUT with X-Copy-Source: {store}:{path}. With X-Move set
// the source is deleted after the copy.
func (s *Server) copyBlob(w http.ResponseWriter, r *http.Request, dst blobstore.Backend, dstPath blobpath.Path) {
	ctx := r.Context()
	if err := requireBlob(dstPath); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	source := r.Header.Get(headerCopySource)
	srcName, rawSrc, ok := strings.Cut(source, ":")
	if !ok || srcName == "" {
		writeError(w, r, s.logger, badRequest("InvalidCopySource", "expected {store}:{path}, got "+strconv.Quote(source)))
		return
	}
	src, ok := s.stores.Get(srcName)
	if !ok {
		writeError(w, r, s.logger, badRequest("InvalidCopySource", "unknown store "+strconv.Quote(srcName)))
		return
	}
	srcPath, err := parsePath(rawSrc)
	if err == nil {
		err = requireBlob(srcPath)
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	move := false
	if v := r.Header.Get(headerMove); v != "" {
		move, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, s.logger, badRequest("InvalidRequest", headerMove+" must be a boolean"))
			return
		}
	}

	if move {
		err = blobstore.Move(ctx, src, srcPath, dst, dstPath)
	} else {
		err = blobstore.Copy(ctx, src, srcPath, dst, dstPath)
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	s.logger.Debug("Copied blob", "from", source, "to", dst.Name()+":"+dstPath.String(), "move", move)
	writeJSON(w, http.StatusCreated, BlobInfo{Store: dst.Name(), Path: dstPath.String(), Source: source})
}

func (s *Server) deleteBlob(w http.ResponseWriter, r *http.Request, b blobstore.Backend, p blobpath.Path) {
	if err := requireBlob(p); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := b.Delete(r.Context(), p); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deleteTree deletes every blob below p. Only S3 stores can enumerate their
// blobs.
func (s *Server) deleteTree(w http.ResponseWriter, r *http.Request, b blobstore.Backend, p blobpath.Path) {
	st, ok := b.(*blobstore.Store)
	if !ok {
		writeError(w, r, s.logger, badRequest("NotListable", "store "+strconv.Quote(b.Name())+" cannot list blobs"))
		return
	}
	if err := st.DeleteBlobs(r.Context(), p); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listBlobs(w http.ResponseWriter, r *http.Request, b blobstore.Backend, p blobpath.Path) {
	st, ok := b.(*blobstore.Store)
	if !ok {
		writeError(w, r, s.logger, badRequest("NotListable", "store "+strconv.Quote(b.Name())+" cannot list blobs"))
		return
	}
	resp := ListResponse{Store: st.Name(), Prefix: p.String(), Blobs: []string{}}
	it := st.ListBlobs(p)
	defer it.Close()
	for blob, err := range it.All(r.Context()) {
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		resp.Blobs = append(resp.Blobs, blob.Path().String())
	}
	writeJSON(w, http.StatusOK, resp)
}
