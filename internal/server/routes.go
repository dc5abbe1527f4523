package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/hupe1980/vectorize"
	"github.com/hupe1980/vectorize/blobstore"
	"github.com/hupe1980/vectorize/metadata"
)

// CreateIndexRequest is the body of POST /indexes.
type CreateIndexRequest = vectorize.Config

// QueryRequest is the body of POST /indexes/{name}/query.
type QueryRequest struct {
	Vector        []float32      `json:"vector"`
	TopK          int            `json:"topK,omitempty"`
	ReturnVectors bool           `json:"returnVectors,omitempty"`
	Filter        map[string]any `json:"filter,omitempty"`
}

// VectorsRequest is the body of insert and upsert.
type VectorsRequest struct {
	Vectors []vectorize.VectorRecord `json:"vectors"`
}

// IDsRequest is the body of delete_by_ids and get_by_ids.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// VectorsResponse is the body returned by get_by_ids.
type VectorsResponse struct {
	Vectors []vectorize.VectorRecord `json:"vectors"`
	Count   int                      `json:"count"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var errBadRequest = errors.New("bad request")

func (s *Server) registerIndexRoutes(r chi.Router) {
	r.Route("/indexes", func(r chi.Router) {
		r.Post("/", s.handleCreateIndex)
		r.Get("/", s.handleListIndexes)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleDescribeIndex)
			r.Delete("/", s.handleDeleteIndex)
			r.Post("/query", s.withIndex(s.handleQuery))
			r.Post("/insert", s.withIndex(s.handleInsert))
			r.Post("/upsert", s.withIndex(s.handleUpsert))
			r.Post("/delete_by_ids", s.withIndex(s.handleDeleteByIDs))
			r.Post("/get_by_ids", s.withIndex(s.handleGetByIDs))
			r.Post("/snapshot", s.handleSnapshot)
		})
	})
}

type indexHandler func(w http.ResponseWriter, r *http.Request, idx *vectorize.Index)

func (s *Server) withIndex(h indexHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := s.registry.Get(chi.URLParam(r, "name"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		h(w, r, idx)
	}
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req CreateIndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	idx, err := s.registry.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idx.Describe())
}

func (s *Server) handleListIndexes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"indexes": s.registry.List()})
}

func (s *Server) handleDescribeIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.registry.Get(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idx.Describe())
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, idx *vectorize.Index) {
	var req QueryRequest
	if !s.decode(w, r, &req) {
		return
	}
	filter, err := metadata.ParseFilter(req.Filter)
	if err != nil {
		s.writeError(w, r, errors.Join(errBadRequest, err))
		return
	}

	res, err := idx.Query(r.Context(), req.Vector, vectorize.QueryOptions{
		TopK:          req.TopK,
		ReturnVectors: req.ReturnVectors,
		Filter:        filter,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Matches == nil {
		res.Matches = []vectorize.Match{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, idx *vectorize.Index) {
	s.mutate(w, r, idx.Insert)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, idx *vectorize.Index) {
	s.mutate(w, r, idx.Upsert)
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, []vectorize.VectorRecord) (vectorize.MutationResult, error)) {
	var req VectorsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := fn(r.Context(), req.Vectors)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteByIDs(w http.ResponseWriter, r *http.Request, idx *vectorize.Index) {
	var req IDsRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := idx.DeleteByIDs(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.IDs == nil {
		res.IDs = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetByIDs(w http.ResponseWriter, r *http.Request, idx *vectorize.Index) {
	var req IDsRequest
	if !s.decode(w, r, &req) {
		return
	}
	recs, err := idx.GetByIDs(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []vectorize.VectorRecord{}
	}
	writeJSON(w, http.StatusOK, VectorsResponse{Vectors: recs, Count: len(recs)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Snapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// decode reads the JSON body into v. It writes the error response and
// returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiError{
				Error:   "too_large",
				Message: err.Error(),
				Code:    http.StatusRequestEntityTooLarge,
			})
			return false
		}
		s.writeError(w, r, errors.Join(errBadRequest, err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, apiError{Error: kind, Message: err.Error(), Code: status})
}

// classify maps an error to its HTTP status and error kind.
func classify(err error) (int, string) {
	var (
		dimErr    *vectorize.ErrDimensionMismatch
		metricErr *vectorize.ErrInvalidMetric
	)
	switch {
	case errors.As(err, &dimErr), errors.As(err, &metricErr),
		errors.Is(err, vectorize.ErrInvalidConfig), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrIndexNotFound), errors.Is(err, vectorize.ErrNotFound), errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrIndexExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrSnapshotsDisabled):
		return http.StatusNotImplemented, "not_implemented"
	case errors.Is(err, vectorize.ErrClosed):
		return http.StatusGone, "closed"
	case errors.Is(err, vectorize.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
