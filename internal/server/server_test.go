package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/woozymasta/shpmap/internal/cache"
	"github.com/woozymasta/shpmap/internal/config"
	"github.com/woozymasta/shpmap/internal/geo"
	"github.com/woozymasta/shpmap/internal/loader"
	"github.com/woozymasta/shpmap/internal/metrics"
	"github.com/woozymasta/shpmap/internal/preview"
	"github.com/woozymasta/shpmap/internal/render"
	"github.com/woozymasta/shpmap/internal/shapefile"
)

type convertFunc func(ctx context.Context, name string, data []byte) (*geojson.FeatureCollection, error)

func (f convertFunc) Convert(ctx context.Context, name string, data []byte) (*geojson.FeatureCollection, error) {
	return f(ctx, name, data)
}

func newTestServer(t *testing.T) (*ServerContext, *prometheus.Registry) {
	t.Helper()
	return newCachedTestServer(t, nil)
}

func newCachedTestServer(t *testing.T, conversionCache *cache.Cache) (*ServerContext, *prometheus.Registry) {
	t.Helper()

	cfg := config.Default()
	cfg.Upload.TempDir = t.TempDir()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	return NewServerContext(cfg, conversionCache, m), registry
}

// conversions returns the conversion counter of result and the number of
// duration samples.
func conversions(t *testing.T, registry *prometheus.Registry, result string) (count float64, samples uint64) {
	t.Helper()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch mf.GetName() {
			case "shpmap_conversions_total":
				for _, label := range metric.GetLabel() {
					if label.GetName() == "result" && label.GetValue() == result {
						count = metric.GetCounter().GetValue()
					}
				}
			case "shpmap_conversion_duration_seconds":
				samples = metric.GetHistogram().GetSampleCount()
			}
		}
	}

	return count, samples
}

// pointShp writes a point shapefile and returns its .shp bytes.
func pointShp(t *testing.T, points ...shp.Point) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "places.shp")
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	for i := range points {
		w.Write(&points[i])
	}
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func uploadRequest(t *testing.T, target, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHandleIndex(t *testing.T) {
	s, _ := newTestServer(t)
	handler := s.Routes(nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("asset status = %d, want 404", rec.Code)
	}
}

func TestHandleConfig(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got map[string]map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["style"]["pointColor"] != "#ff0000" {
		t.Errorf("style.pointColor = %v", got["style"]["pointColor"])
	}
	if _, ok := got["upload"]; ok {
		t.Error("upload limits must not be exposed")
	}
}

func TestHandleConvert(t *testing.T) {
	s, registry := newTestServer(t)
	data := pointShp(t, shp.Point{X: 2.35, Y: 48.85}, shp.Point{X: -0.12, Y: 51.5})

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "/api/convert", "places.shp", data, map[string]string{clientField: "tab-1"})
	s.Routes(nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var plan render.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}

	if plan.Style != geo.PointStyle {
		t.Errorf("style = %q, want %q", plan.Style, geo.PointStyle)
	}
	if plan.Layer.Type != "circle" || plan.Layer.ID != render.LayerID || plan.Layer.Source != render.SourceID {
		t.Errorf("unexpected layer %+v", plan.Layer)
	}
	if plan.Download != "places.geojson" {
		t.Errorf("download = %q", plan.Download)
	}
	if plan.Bounds == nil {
		t.Fatal("missing bounds")
	}
	if want := [2][2]float64{{-0.12, 48.85}, {2.35, 51.5}}; *plan.Bounds != want {
		t.Errorf("bounds = %v, want %v", *plan.Bounds, want)
	}
	if plan.Data == nil || len(plan.Data.Features) != 2 {
		t.Errorf("expected 2 features in plan data")
	}

	if got := s.Tracker.Generation("tab-1"); got != 0 {
		t.Errorf("tracker slot not released, generation %d", got)
	}

	if n, err := testutil.GatherAndCount(registry, "shpmap_conversions_total"); err != nil || n != 1 {
		t.Errorf("conversions_total series = %d, %v", n, err)
	}
	if count, samples := conversions(t, registry, metrics.ResultSuccess); count != 1 || samples != 1 {
		t.Errorf("success = %v with %d samples, want 1 and 1", count, samples)
	}
}

func TestHandleConvertCountsOnce(t *testing.T) {
	s, registry := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, uploadRequest(t, "/api/convert", "empty.shp", pointShp(t), nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	if count, _ := conversions(t, registry, metrics.ResultSuccess); count != 0 {
		t.Errorf("success = %v, want 0", count)
	}
	count, samples := conversions(t, registry, metrics.ResultUnsupported)
	if count != 1 || samples != 1 {
		t.Errorf("unsupported_geometry = %v with %d samples, want 1 and 1", count, samples)
	}
}

func TestHandleConvertSuperseded(t *testing.T) {
	places := geojson.NewFeatureCollection()
	places.Append(geojson.NewFeature(orb.Point{1, 2}))

	cases := []struct {
		intention string
		convert   func(ctx context.Context) (*geojson.FeatureCollection, error)
	}{
		{
			intention: "should reject a result that finished after a newer upload began",
			convert: func(ctx context.Context) (*geojson.FeatureCollection, error) {
				return places, nil
			},
		},
		{
			intention: "should reject a conversion interrupted by a newer upload",
			convert: func(ctx context.Context) (*geojson.FeatureCollection, error) {
				<-ctx.Done()
				return nil, fmt.Errorf("convert places: %w", ctx.Err())
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.intention, func(t *testing.T) {
			s, registry := newTestServer(t)

			s.Converter = convertFunc(func(ctx context.Context, _ string, _ []byte) (*geojson.FeatureCollection, error) {
				_, newer := s.Tracker.Begin(context.Background(), "tab-1")
				defer newer.Done()

				return tc.convert(ctx)
			})

			rec := httptest.NewRecorder()
			req := uploadRequest(t, "/api/convert", "places.shp", []byte("ignored"), map[string]string{clientField: "tab-1"})
			s.Routes(nil).ServeHTTP(rec, req)

			if rec.Code != http.StatusConflict {
				t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
			}
			if body := decodeError(t, rec); body.Error != KindSuperseded {
				t.Errorf("kind = %q, want %q", body.Error, KindSuperseded)
			}
			if count, samples := conversions(t, registry, metrics.ResultSuperseded); count != 1 || samples != 1 {
				t.Errorf("superseded = %v with %d samples, want 1 and 1", count, samples)
			}
		})
	}
}

func TestHandleConvertCache(t *testing.T) {
	roads := geojson.NewFeatureCollection()
	roads.Append(geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}}))
	roadsJSON, err := geo.Marshal(roads)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		intention string
		stored    string
		failing   bool
		style     geo.Style
		result    string
	}{
		{
			intention: "should serve a cached conversion",
			stored:    string(roadsJSON),
			style:     geo.LineStyle,
			result:    metrics.ResultCacheHit,
		},
		{
			intention: "should convert again when the cached entry is unreadable",
			stored:    "not geojson",
			style:     geo.PointStyle,
			result:    metrics.ResultSuccess,
		},
		{
			intention: "should convert when redis fails",
			failing:   true,
			style:     geo.PointStyle,
			result:    metrics.ResultSuccess,
		},
	}

	for _, tc := range cases {
		t.Run(tc.intention, func(t *testing.T) {
			mr := miniredis.RunT(t)
			conversionCache, err := cache.New(context.Background(), "redis://"+mr.Addr(), time.Hour)
			if err != nil {
				t.Fatalf("cache: %v", err)
			}
			t.Cleanup(func() { _ = conversionCache.Close() })

			s, registry := newCachedTestServer(t, conversionCache)
			data := pointShp(t, shp.Point{X: 5, Y: 6})

			if tc.stored != "" {
				if err := mr.Set(cache.Key(data), tc.stored); err != nil {
					t.Fatalf("seed cache: %v", err)
				}
			}
			if tc.failing {
				mr.SetError("LOADING dataset in memory")
			}

			rec := httptest.NewRecorder()
			s.Routes(nil).ServeHTTP(rec, uploadRequest(t, "/api/convert", "places.shp", data, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
			}

			var plan render.Plan
			if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
				t.Fatalf("decode plan: %v", err)
			}
			if plan.Style != tc.style {
				t.Errorf("style = %q, want %q", plan.Style, tc.style)
			}
			if count, samples := conversions(t, registry, tc.result); count != 1 || samples != 1 {
				t.Errorf("%s = %v with %d samples, want 1 and 1", tc.result, count, samples)
			}

			if tc.failing {
				return
			}
			stored, err := mr.Get(cache.Key(data))
			if err != nil {
				t.Fatalf("cache entry missing: %v", err)
			}
			if _, err := geo.Unmarshal([]byte(stored)); err != nil {
				t.Errorf("cache holds an unreadable entry after the request: %v", err)
			}
		})
	}
}

func TestHandleConvertErrors(t *testing.T) {
	cases := []struct {
		intention string
		filename  string
		data      []byte
		maxSize   int64
		status    int
		kind      string
	}{
		{
			intention: "should reject content that is not a shapefile",
			filename:  "notes.txt",
			data:      []byte("definitely not a shapefile"),
			status:    http.StatusUnprocessableEntity,
			kind:      KindConversion,
		},
		{
			intention: "should report a shapefile without features as unsupported",
			filename:  "empty.shp",
			data:      pointShp(t),
			status:    http.StatusUnprocessableEntity,
			kind:      KindUnsupported,
		},
		{
			intention: "should refuse uploads over the size limit",
			filename:  "places.shp",
			data:      pointShp(t, shp.Point{X: 1, Y: 1}),
			maxSize:   16,
			status:    http.StatusRequestEntityTooLarge,
			kind:      KindTooLarge,
		},
		{
			intention: "should require the file field",
			status:    http.StatusBadRequest,
			kind:      KindBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.intention, func(t *testing.T) {
			s, _ := newTestServer(t)
			if tc.maxSize > 0 {
				s.Config.Upload.MaxSize = tc.maxSize
			}

			rec := httptest.NewRecorder()
			s.Routes(nil).ServeHTTP(rec, uploadRequest(t, "/api/convert", tc.filename, tc.data, nil))

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			if body := decodeError(t, rec); body.Error != tc.kind || body.Message == "" {
				t.Errorf("body = %+v, want kind %q", body, tc.kind)
			}
		})
	}
}

func TestHandleDownload(t *testing.T) {
	s, _ := newTestServer(t)
	data := pointShp(t, shp.Point{X: 10, Y: 20})

	rec := httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, uploadRequest(t, "/api/download", `C:\maps\parcels.shp`, data, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != geo.MediaType {
		t.Errorf("Content-Type = %q, want %q", ct, geo.MediaType)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "attachment; filename=parcels.geojson" {
		t.Errorf("Content-Disposition = %q", cd)
	}

	fc, err := geo.Unmarshal(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("download is not a feature collection: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Errorf("features = %d, want 1", len(fc.Features))
	}
}

func TestHandlePreview(t *testing.T) {
	s, _ := newTestServer(t)
	data := pointShp(t, shp.Point{X: 10, Y: 20}, shp.Point{X: 11, Y: 21})

	rec := httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, uploadRequest(t, "/api/preview?size=64", "places.shp", data, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/webp" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := rec.Body.Bytes(); len(body) < 12 || string(body[:4]) != "RIFF" || string(body[8:12]) != "WEBP" {
		t.Errorf("response is not a WebP image")
	}

	rec = httptest.NewRecorder()
	s.Routes(nil).ServeHTTP(rec, uploadRequest(t, "/api/preview?size=abc", "places.shp", data, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid size status = %d, want 400", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		intention string
		err       error
		status    int
		kind      string
	}{
		{"superseded load", fmt.Errorf("a.shp: %w", loader.ErrSuperseded), http.StatusConflict, KindSuperseded},
		{"broken upload", fmt.Errorf("%w: bad header", shapefile.ErrConversion), http.StatusUnprocessableEntity, KindConversion},
		{"unsupported geometry", fmt.Errorf("classify: %w", geo.ErrUnsupportedGeometry), http.StatusUnprocessableEntity, KindUnsupported},
		{"nothing to draw", preview.ErrEmpty, http.StatusUnprocessableEntity, KindUnsupported},
		{"too large", errTooLarge, http.StatusRequestEntityTooLarge, KindTooLarge},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, KindInternal},
	}

	for _, tc := range cases {
		t.Run(tc.intention, func(t *testing.T) {
			status, kind, _ := classify(tc.err)
			if status != tc.status || kind != tc.kind {
				t.Errorf("classify() = %d %q, want %d %q", status, kind, tc.status, tc.kind)
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t)

	called := false
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	s.Routes(metricsHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !called {
		t.Error("metrics handler not mounted")
	}
}
