package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"github.com/CDdanieldeng/excel-accelerator/pkg/orchestrator"
)

// Uploader persists uploaded files. *dataset.ObjectStore implements it.
type Uploader interface {
	Put(ctx context.Context, ref, filename string, r io.Reader, size int64) error
}

// DatasetsHandler serves dataset upload and inspection.
type DatasetsHandler struct {
	registry *dataset.Registry
	// provider resolves references the registry may not hold yet.
	provider dataset.Provider
	uploader Uploader
	maxBytes int64
}

// NewDatasetsHandler creates a DatasetsHandler. provider defaults to the
// registry and uploader may be nil.
func NewDatasetsHandler(registry *dataset.Registry, provider dataset.Provider, uploader Uploader, maxUploadMB int) *DatasetsHandler {
	if provider == nil {
		provider = registry
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	return &DatasetsHandler{
		registry: registry,
		provider: provider,
		uploader: uploader,
		maxBytes: int64(maxUploadMB) << 20,
	}
}

// RegisterRoutes registers the dataset API routes on the router.
func (h *DatasetsHandler) RegisterRoutes(router *Router) {
	router.POST("/api/datasets", h.Upload)
	router.GET("/api/datasets", h.ListDatasets)
	router.GET("/api/datasets/:ref", h.GetDataset)
}

// UploadResponse is the JSON response for POST /api/datasets.
type UploadResponse struct {
	orchestrator.Schema
	Sheets []string `json:"sheets,omitempty"`
	Stored bool     `json:"stored"`
}

// DatasetListResponse is the JSON response for GET /api/datasets.
type DatasetListResponse struct {
	Datasets []*dataset.Binding `json:"datasets"`
	Total    int                `json:"total"`
}

// Upload handles POST /api/datasets as multipart/form-data with a "file"
// part and optional "sheet" and "header_row" fields.
func (h *DatasetsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		WriteFailure(w, r, werrors.InvalidRequest("expected a multipart upload within the size limit: "+err.Error()), "", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteFailure(w, r, werrors.InvalidRequest("the upload has no file part"), "", nil)
		return
	}
	defer file.Close()

	opts := dataset.LoadOptions{Sheet: r.FormValue("sheet")}
	if hr := r.FormValue("header_row"); hr != "" {
		n, err := strconv.Atoi(hr)
		if err != nil || n < 0 {
			WriteFailure(w, r, werrors.InvalidRequest("header_row must be a non-negative integer"), "", nil)
			return
		}
		opts.HeaderRow = n
	}

	data, err := io.ReadAll(file)
	if err != nil {
		WriteFailure(w, r, werrors.DatasetLoadFailed(err, header.Filename), "", nil)
		return
	}

	table, err := dataset.Load(header.Filename, bytes.NewReader(data), opts)
	if err != nil {
		WriteFailure(w, r, werrors.DatasetLoadFailed(err, header.Filename), "", nil)
		return
	}
	binding, err := h.registry.Add(table)
	if err != nil {
		WriteFailure(w, r, werrors.Flow(err, "could not register the dataset"), "", nil)
		return
	}

	resp := UploadResponse{Schema: orchestrator.SchemaOf(binding)}
	if isWorkbook(header.Filename) {
		// The load already succeeded, so listing sheets cannot fail here.
		resp.Sheets, _ = dataset.SheetNames(bytes.NewReader(data))
	}
	if h.uploader != nil {
		err := h.uploader.Put(r.Context(), binding.Ref, header.Filename, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			// The in-memory copy still serves this process.
			log.Printf("[api] dataset %s not persisted: %v", binding.Ref, err)
		} else {
			resp.Stored = true
		}
	}
	WriteJSON(w, r, http.StatusCreated, resp)
}

// ListDatasets handles GET /api/datasets.
func (h *DatasetsHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	WriteJSON(w, r, http.StatusOK, DatasetListResponse{Datasets: list, Total: len(list)})
}

// GetDataset handles GET /api/datasets/:ref.
func (h *DatasetsHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	ref := PathParam(r, "ref")
	b, err := h.provider.Lookup(r.Context(), ref)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			err = werrors.DatasetNotFound(ref)
		}
		WriteFailure(w, r, err, "", nil)
		return
	}
	WriteJSON(w, r, http.StatusOK, orchestrator.SchemaOf(b))
}

func isWorkbook(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}
