package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/ScriptFlow/internal/messaging"
	"github.com/BTreeMap/ScriptFlow/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// featuresHandler lists every registered feature with its step prompts.
func (s *Server) featuresHandler(w http.ResponseWriter, r *http.Request) {
	d := s.manager.Dispatcher()
	features := d.Features()
	out := make([]models.FeatureView, 0, len(features))
	for _, f := range features {
		h, err := d.Handler(f)
		if err != nil {
			continue
		}
		view := models.FeatureView{
			Feature:        f,
			InitialMessage: h.InitialMessage(),
			TotalSteps:     h.TotalSteps(),
		}
		for i := 0; i < h.TotalSteps(); i++ {
			view.Steps = append(view.Steps, models.StepView{
				Index:     i,
				Prompt:    h.StepMessage(i),
				CanGoBack: h.CanGoBack(i),
			})
		}
		out = append(out, view)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) componentsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.components.Entries()))
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.List(r.Context())
	if err != nil {
		slog.Error("Server.listSessionsHandler: list failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

func (s *Server) openSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OpenSessionRequest
	if !decodeJSON(w, r, "Server.openSessionHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	view, err := s.manager.Open(r.Context(), req.Feature, req.PhoneNumber)
	if err != nil {
		slog.Warn("Server.openSessionHandler: open failed", "feature", req.Feature, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session opened", view))
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := s.manager.Transcript(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) closeSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Close(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session closed", nil))
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.SendMessageRequest
	if !decodeJSON(w, r, "Server.sendMessageHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	exchange, err := s.manager.Send(r.Context(), id, req.Text)
	if err != nil {
		slog.Warn("Server.sendMessageHandler: send failed", "session", id, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(exchange))
}

func (s *Server) componentUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")
	var req models.ComponentUpdateRequest
	if !decodeJSON(w, r, "Server.componentUpdateHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	exchange, err := s.manager.UpdateComponent(r.Context(), id, messageID, req.Data)
	if err != nil {
		slog.Warn("Server.componentUpdateHandler: update failed", "session", id, "message", messageID, "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(exchange))
}

func (s *Server) candidatesHandler(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.records.ListCandidates()
	if err != nil {
		slog.Error("Server.candidatesHandler: list failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(candidates))
}

func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.records.ListJobs()
	if err != nil {
		slog.Error("Server.jobsHandler: list failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(jobs))
}

// twilioWebhookHandler feeds an inbound WhatsApp message to the sender's open session.
// Replies go back through the Twilio mirror, so the webhook answers with empty TwiML.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	in, err := messaging.ParseInbound(r)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	dedupe := s.dedup != nil && in.MessageSID != ""
	if dedupe {
		fresh, err := s.dedup.RecordInbound(in.MessageSID, in.From)
		if err != nil {
			slog.Error("Server.twilioWebhookHandler: dedup check failed", "sid", in.MessageSID, "error", err)
			writeError(w, err)
			return
		}
		if !fresh {
			slog.Info("Server.twilioWebhookHandler: duplicate delivery ignored", "sid", in.MessageSID)
			writeEmptyTwiML(w)
			return
		}
	}

	if _, err := s.manager.SendByPhone(r.Context(), in.From, in.Body); err != nil {
		slog.Warn("Server.twilioWebhookHandler: inbound message not delivered", "error", err)
		writeError(w, err)
		return
	}
	if dedupe {
		if err := s.dedup.MarkProcessed(in.MessageSID); err != nil {
			slog.Warn("Server.twilioWebhookHandler: failed to mark processed", "sid", in.MessageSID, "error", err)
		}
	}
	writeEmptyTwiML(w)
}

func writeEmptyTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("<Response></Response>")); err != nil {
		slog.Error("writeEmptyTwiML: failed to write response", "error", err)
	}
}

// decodeJSON decodes the request body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, where string, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return false
		}
		slog.Warn(where+": invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}
