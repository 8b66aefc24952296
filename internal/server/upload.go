package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/shpmap/internal/geo"
	"github.com/woozymasta/shpmap/internal/loader"
	"github.com/woozymasta/shpmap/internal/metrics"
	"github.com/woozymasta/shpmap/internal/preview"
	"github.com/woozymasta/shpmap/internal/render"
)

const (
	fileField   = "file"
	clientField = "client"

	// room for multipart boundaries and the other form fields
	multipartOverhead = 1 << 20
	maxMemory         = 32 << 20
)

type upload struct {
	name   string
	client string
	data   []byte
}

// readUpload extracts the uploaded file. It writes the error response itself
// and returns false when the request is unusable.
func (s *ServerContext) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	limit := s.Config.Upload.MaxSize
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, errTooLarge)
			return upload{}, false
		}
		badRequest(w, "expected a multipart form")
		return upload{}, false
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(fileField)
	if err != nil {
		badRequest(w, "missing `file` field")
		return upload{}, false
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		writeError(w, errTooLarge)
		return upload{}, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "unable to read upload")
		return upload{}, false
	}

	return upload{
		name:   header.Filename,
		client: r.FormValue(clientField),
		data:   data,
	}, true
}

// convert returns the collection of an upload, from the cache when possible.
// cached reports a cache hit.
func (s *ServerContext) convert(ctx context.Context, u upload) (fc *geojson.FeatureCollection, cached bool, err error) {
	if data, ok := s.Cache.Get(ctx, u.data); ok {
		fc, err := geo.Unmarshal(data)
		if err == nil {
			log.Debug().Str("file", u.name).Msg("Conversion served from cache")
			return fc, true, nil
		}
		log.Warn().Err(err).Str("file", u.name).Msg("Discarding unreadable cache entry")
	}

	fc, err = s.Converter.Convert(ctx, u.name, u.data)
	if err != nil {
		if errors.Is(context.Cause(ctx), loader.ErrSuperseded) {
			err = fmt.Errorf("%s: %w", u.name, loader.ErrSuperseded)
		}
		return nil, false, err
	}

	if s.Cache != nil {
		if data, err := geo.Marshal(fc); err == nil {
			s.Cache.Set(ctx, u.data, data)
		}
	}

	return fc, false, nil
}

// record counts the outcome of one request, once.
func (s *ServerContext) record(start time.Time, cached bool, err error) {
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		_, _, result = classify(err)
	case cached:
		result = metrics.ResultCacheHit
	}

	if result != "" {
		s.Metrics.Observe(result, time.Since(start))
	}
}

func (s *ServerContext) fail(w http.ResponseWriter, u upload, err error) {
	status, kind, _ := classify(err)

	event := log.Error()
	if status < http.StatusInternalServerError {
		event = log.Warn()
	}
	event.Err(err).
		Str("file", u.name).
		Str("kind", kind).
		Int("size", len(u.data)).
		Msg("Failed to load shapefile")

	writeError(w, err)
}

// HandleConvert converts an uploaded shapefile and answers with a render plan.
// Uploads carrying a client id supersede that client's pending upload.
func (s *ServerContext) HandleConvert(w http.ResponseWriter, r *http.Request) {
	u, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	var ticket *loader.Ticket
	if u.client != "" {
		loadCtx, tk := s.Tracker.Begin(ctx, u.client)
		defer tk.Done()
		ctx, ticket = loadCtx, &tk
	}

	start := time.Now()
	fc, cached, err := s.convert(ctx, u)
	if err == nil && ticket != nil && !ticket.Current() {
		err = fmt.Errorf("%s: %w", u.name, loader.ErrSuperseded)
	}

	var plan *render.Plan
	if err == nil {
		plan, err = render.Build(u.name, fc, s.Config)
	}

	s.record(start, cached, err)
	if err != nil {
		s.fail(w, u, err)
		return
	}

	log.Info().
		Str("file", u.name).
		Str("style", string(plan.Style)).
		Int("features", plan.Summary.Features).
		Dur("duration", time.Since(start)).
		Msg("Shapefile converted")

	writeJSON(w, http.StatusOK, plan)
}

// HandleDownload converts an uploaded shapefile and returns it as a GeoJSON attachment.
func (s *ServerContext) HandleDownload(w http.ResponseWriter, r *http.Request) {
	u, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	start := time.Now()
	fc, cached, err := s.convert(r.Context(), u)
	s.record(start, cached, err)
	if err != nil {
		s.fail(w, u, err)
		return
	}

	data, err := geo.Marshal(fc)
	if err != nil {
		s.fail(w, u, err)
		return
	}

	name := geo.DownloadName(u.name)
	w.Header().Set("Content-Type", geo.MediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// HandlePreview converts an uploaded shapefile and returns a WebP thumbnail.
// The optional `size` query parameter sets the edge in pixels.
func (s *ServerContext) HandlePreview(w http.ResponseWriter, r *http.Request) {
	size := preview.DefaultSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "size must be a positive integer")
			return
		}
		size = n
	}

	u, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	start := time.Now()
	fc, cached, err := s.convert(r.Context(), u)

	var img *image.RGBA
	if err == nil {
		img, err = preview.Render(fc, s.Config.Style, size)
	}

	s.record(start, cached, err)
	if err != nil {
		s.fail(w, u, err)
		return
	}

	var buf bytes.Buffer
	if err := preview.EncodeWebP(&buf, img); err != nil {
		s.fail(w, u, err)
		return
	}

	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}
