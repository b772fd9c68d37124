package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxprep/internal/model"
	"github.com/sells-group/taxprep/internal/money"
	"github.com/sells-group/taxprep/internal/rules"
)

// documentRequest is an uploaded document. Payload carries the document
// text as-is; a JSON document is sent as a string. Binary formats (xlsx)
// set Encoding to "base64".
type documentRequest struct {
	SourceKind string    `json:"source_kind"`
	Format     string    `json:"format"`
	Encoding   string    `json:"encoding"`
	Payload    string    `json:"payload"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
}

func (req documentRequest) payload() ([]byte, error) {
	switch req.Encoding {
	case "":
		return []byte(req.Payload), nil
	case "base64":
		b, err := base64.StdEncoding.DecodeString(req.Payload)
		if err != nil {
			return nil, eris.Wrap(err, "payload")
		}
		return b, nil
	}
	return nil, eris.Errorf("unsupported encoding %q", req.Encoding)
}

type confirmationRequest struct {
	Confirmed []string     `json:"confirmed"`
	Edits     []model.Edit `json:"edits"`
}

type overrideRequest struct {
	Field  string        `json:"field"`
	Value  *money.Amount `json:"value"`
	Reason string        `json:"reason"`
}

type ruleHistoryResponse struct {
	Results []model.RuleResult `json:"results"`
	Summary rules.Summary      `json:"summary"`
}

func (s *Server) createReturn(w http.ResponseWriter, r *http.Request) {
	var profile model.TaxpayerProfile
	if !readJSON(w, r, &profile) {
		return
	}
	ret, err := s.svc.CreateReturn(r.Context(), profile)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (s *Server) getReturn(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) addDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !readJSON(w, r, &req) {
		return
	}
	kind, err := model.ParseSourceKind(req.SourceKind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", err.Error())
		return
	}
	payload, err := req.payload()
	if err != nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", err.Error())
		return
	}
	doc, err := s.svc.AddDocument(r.Context(), model.Document{
		ReturnID:   chi.URLParam(r, "id"),
		SourceKind: kind,
		Format:     req.Format,
		Payload:    payload,
		Confidence: req.Confidence,
		CapturedAt: req.CapturedAt,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	doc.Payload = nil
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getConfirmation(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetConfirmationView(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) submitConfirmation(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if !readJSON(w, r, &req) {
		return
	}
	out, err := s.svc.SubmitConfirmation(r.Context(), chi.URLParam(r, "id"), req.Confirmed, req.Edits)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) applyOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Field == "" || req.Value == nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", "field and value are required")
		return
	}
	out, err := s.svc.ApplyOverride(r.Context(), chi.URLParam(r, "id"), req.Field, *req.Value, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) clearOverride(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.ClearOverride(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "field"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// getComputation serves both regimes. With final=true it answers 409 while
// the gate is closed.
func (s *Server) getComputation(w http.ResponseWriter, r *http.Request) {
	final, err := parseBool(r.URL.Query().Get("final"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", "final: "+err.Error())
		return
	}
	get := s.svc.GetComputation
	if final {
		get = s.svc.Finalize
	}
	comp, err := get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

// exportReturn serves the ITR document once the gate is open. With
// download=true the body is the document itself.
func (s *Server) exportReturn(w http.ResponseWriter, r *http.Request) {
	download, err := parseBool(r.URL.Query().Get("download"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", "download: "+err.Error())
		return
	}
	res, err := s.svc.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !download {
		writeJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.json"`, res.Form, res.AssessmentYear))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Document); err != nil {
		zap.L().Debug("api: write export", zap.Error(err))
	}
}

// ruleHistory serves rule results. Query: latest, category, severity
// (minimum), failed, pass_id.
func (s *Server) ruleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	latest, err := parseBool(q.Get("latest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", "latest: "+err.Error())
		return
	}
	failed, err := parseBool(q.Get("failed"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INPUT_ERROR", "failed: "+err.Error())
		return
	}
	f := rules.Filter{
		Category:    q.Get("category"),
		MinSeverity: model.Severity(strings.ToUpper(q.Get("severity"))),
		FailedOnly:  failed,
		PassID:      q.Get("pass_id"),
	}
	results, err := s.svc.RuleHistory(r.Context(), chi.URLParam(r, "id"), latest, f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []model.RuleResult{}
	}
	writeJSON(w, http.StatusOK, ruleHistoryResponse{Results: results, Summary: rules.Summarize(results)})
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
