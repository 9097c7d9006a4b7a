package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"espvote/internal/repo"
)

// debugReset — POST /debug/reset: удаляет все устройства, голосующих, темы и голоса.
func (h *HTTP) debugReset(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// debugSeed — POST /debug/seed: три тестовых устройства, два голосующих и тема
// на ближайший час (если окно свободно). Устройства регистрируются через координатор,
// поэтому их vote/<session> сразу слушается.
func (h *HTTP) debugSeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{}

	var ids []uint
	for i := 1; i <= 3; i++ {
		reg, err := h.coord.Register(ctx, fmt.Sprintf("DE:B0:00:00:00:%02d", i))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ids = append(ids, reg.Device.ID)
	}
	out["devices"] = ids

	var voters []uint
	for i, name := range []string{"alice", "bob"} {
		v, err := h.store.Devices().AssignVoter(ctx, ids[i], name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		voters = append(voters, v.ID)
	}
	out["voters"] = voters

	start := time.Now().UTC().Truncate(time.Second)
	t, err := h.coord.CreateTopic(ctx, "Sample topic", "seeded by /debug/seed", start, start.Add(time.Hour))
	switch {
	case errors.Is(err, repo.ErrConflict):
		out["topic"] = "skipped: " + err.Error()
	case err != nil:
		writeError(w, r, err)
		return
	default:
		out["topic"] = t
	}

	h.devices.Invalidate(ctx)
	writeJSON(w, http.StatusOK, out)
}
