package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/polishcitizenship/portal-core/internal/export"
	"github.com/polishcitizenship/portal-core/internal/intake"
	"github.com/polishcitizenship/portal-core/internal/lifecycle"
	"github.com/polishcitizenship/portal-core/internal/model"
	"github.com/polishcitizenship/portal-core/internal/store"
)

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) view(c *model.Case) lifecycle.CaseView {
	return lifecycle.Describe(s.cases.Config(), c)
}

func (s *Server) handleQuestionnaire(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.assessor.Questionnaire())
}

func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req intake.Request
	if !decode(w, r, &req) {
		return
	}
	res, err := s.assessor.Assess(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type openCaseRequest struct {
	lifecycle.OpenRequest
	SubmissionID string `json:"submission_id,omitempty"`
}

func (s *Server) handleOpenCase(w http.ResponseWriter, r *http.Request) {
	var req openCaseRequest
	if !decode(w, r, &req) {
		return
	}

	var c *model.Case
	var err error
	if req.SubmissionID != "" {
		c, err = s.assessor.OpenFromSubmission(r.Context(), req.SubmissionID, req.OpenRequest)
	} else {
		c, err = s.cases.Open(r.Context(), req.OpenRequest)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(c))
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CaseFilter{ClientRef: q.Get("client_ref")}
	for _, v := range q["state"] {
		for _, name := range strings.Split(v, ",") {
			st, err := model.ParseState(strings.TrimSpace(name))
			if err != nil {
				writeBadRequest(w, err.Error())
				return
			}
			filter.States = append(filter.States, st)
		}
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	cases, err := s.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]lifecycle.CaseView, len(cases))
	for i := range cases {
		views[i] = s.view(&cases[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": views, "count": len(views)})
}

func intParam(w http.ResponseWriter, v, name string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeBadRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.cases.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(c))
}

func (s *Server) handleRecordDocument(w http.ResponseWriter, r *http.Request) {
	var upd lifecycle.DocumentUpdate
	if !decode(w, r, &upd) {
		return
	}
	s.respondCase(w, r)(s.cases.RecordDocument(r.Context(), chi.URLParam(r, "id"), upd))
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var upd lifecycle.PaymentUpdate
	if !decode(w, r, &upd) {
		return
	}
	s.respondCase(w, r)(s.cases.RecordPayment(r.Context(), chi.URLParam(r, "id"), upd))
}

func (s *Server) handleMarkOverdue(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "milestone index must be an integer")
		return
	}
	s.respondCase(w, r)(s.cases.MarkOverdue(r.Context(), chi.URLParam(r, "id"), index))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.respondCase(w, r)(s.cases.Submit(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome model.Outcome `json:"outcome"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.respondCase(w, r)(s.cases.RecordDecision(r.Context(), chi.URLParam(r, "id"), req.Outcome))
}

// respondCase writes the result of a lifecycle operation.
func (s *Server) respondCase(w http.ResponseWriter, r *http.Request) func(*model.Case, error) {
	return func(c *model.Case, err error) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.view(c))
	}
}

// handleExport returns the payload as JSON, or as a workbook with ?format=xlsx.
// Incomplete cases still export; their gaps are listed as warnings.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.exports.Export(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, p)
	case "xlsx":
		f, err := export.BuildWorkbook([]model.ExportPayload{p})
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.xlsx"`)
		w.WriteHeader(http.StatusOK)
		_ = f.Write(w)
	default:
		writeBadRequest(w, "format must be json or xlsx")
	}
}
