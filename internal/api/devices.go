package api

import (
	"fmt"
	"net/http"

	"espvote/internal/codec"
)

func (h *HTTP) listDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch f := r.URL.Query().Get("filter"); f {
	case "":
		list, err := h.devices.Registered(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case "unassigned":
		list, err := h.store.Devices().ListUnassigned(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case "assigned":
		list, err := h.store.Devices().ListAssigned(ctx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		writeError(w, r, fmt.Errorf("%w: unknown filter %q (unassigned|assigned)", codec.ErrValidation, f))
	}
}

func (h *HTTP) listAllDevices(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.Devices().ListAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *HTTP) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	dev, err := h.coord.UnregisterDevice(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (h *HTTP) unregisterAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.coord.UnregisterAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unregistered": n})
}

func (h *HTTP) assign(w http.ResponseWriter, r *http.Request) {
	obj, err := readObject(r, "username", "deviceId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	deviceID, err := uintField(obj, "deviceId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.store.Devices().AssignVoter(r.Context(), deviceID, obj.String("username"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.devices.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": deviceID, "voter": v})
}

func (h *HTTP) unassign(w http.ResponseWriter, r *http.Request) {
	obj, err := readObject(r, "deviceId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	deviceID, err := uintField(obj, "deviceId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Devices().Unassign(r.Context(), deviceID); err != nil {
		writeError(w, r, err)
		return
	}
	h.devices.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": deviceID, "assigned": false})
}

func (h *HTTP) unassignAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Devices().UnassignAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.devices.Invalidate(r.Context())
	writeJSON(w, http.StatusOK, map[string]int64{"unassigned": n})
}

func (h *HTTP) getVoter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.store.Devices().GetVoter(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := map[string]any{"voter": v}
	if v.DeviceID != nil {
		if dev, err := h.store.Devices().Get(r.Context(), *v.DeviceID); err == nil {
			out["device"] = dev
		}
	}
	writeJSON(w, http.StatusOK, out)
}
