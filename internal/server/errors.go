package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/woozymasta/shpmap/internal/geo"
	"github.com/woozymasta/shpmap/internal/loader"
	"github.com/woozymasta/shpmap/internal/metrics"
	"github.com/woozymasta/shpmap/internal/preview"
	"github.com/woozymasta/shpmap/internal/shapefile"
)

// Error kinds reported to the client.
const (
	KindConversion  = "ConversionFailure"
	KindUnsupported = "UnsupportedGeometry"
	KindSuperseded  = "Superseded"
	KindTooLarge    = "UploadTooLarge"
	KindBadRequest  = "BadRequest"
	KindInternal    = "InternalError"
)

var errTooLarge = errors.New("upload too large")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error to its response status, kind and metric label.
func classify(err error) (status int, kind, result string) {
	switch {
	case errors.Is(err, loader.ErrSuperseded):
		return http.StatusConflict, KindSuperseded, metrics.ResultSuperseded
	case errors.Is(err, shapefile.ErrConversion):
		return http.StatusUnprocessableEntity, KindConversion, metrics.ResultConversion
	case errors.Is(err, geo.ErrUnsupportedGeometry), errors.Is(err, preview.ErrEmpty):
		return http.StatusUnprocessableEntity, KindUnsupported, metrics.ResultUnsupported
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, KindTooLarge, ""
	case errors.Is(err, context.Canceled):
		// client went away
		return 499, KindInternal, ""
	default:
		return http.StatusInternalServerError, KindInternal, ""
	}
}

func userMessage(kind string, err error) string {
	switch kind {
	case KindConversion:
		return "The shapefile could not be loaded. Make sure the file is valid: " + err.Error()
	case KindUnsupported:
		return "Unsupported geometry type."
	case KindSuperseded:
		return "A newer file was selected."
	case KindTooLarge:
		return "The file is too large."
	default:
		return "Internal error."
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind, _ := classify(err)
	writeJSON(w, status, errorBody{Error: kind, Message: userMessage(kind, err)})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: KindBadRequest, Message: message})
}
