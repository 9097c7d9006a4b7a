package api

import (
	"net/http"

	"espvote/internal/models"
)

func (h *HTTP) createTopic(w http.ResponseWriter, r *http.Request) {
	obj, err := readObject(r, "title", "startTime", "endTime")
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseTime(obj, "startTime")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseTime(obj, "endTime")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.coord.CreateTopic(r.Context(), obj.String("title"), obj.String("description"), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": t.ID, "topic": t})
}

func (h *HTTP) listTopics(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Topics().List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *HTTP) getTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.store.Topics().Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// activeTopic — тема из трекера окна и её статус для resync.
func (h *HTTP) activeTopic(w http.ResponseWriter, r *http.Request) {
	t, st, ok := h.coord.Status()
	if !ok {
		models.WriteProblem(w, http.StatusNotFound, "not_found", "no voting topic configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": t, "status": st.Status})
}

func (h *HTTP) votesByTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "topicId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.Topics().Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.Votes().ListForTopic(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *HTTP) votesByVoter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "voterId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.store.Votes().ListForVoter(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
