package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Check — дополнительная проверка готовности (брокер, redis). nil-ошибка — ок.
type Check func(ctx context.Context) error

type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// RegisterRoutes — только /healthz (процесс жив).
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		write(w, http.StatusOK, status{Status: "ok"})
	}).Methods(http.MethodGet)
}

// RegisterRoutesWithDB — /healthz и /readyz: БД отвечает на ping и все checks проходят.
func RegisterRoutesWithDB(r *mux.Router, db *gorm.DB, checks map[string]Check) {
	RegisterRoutes(r)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		out := status{Status: "ok", Checks: map[string]string{}}
		code := http.StatusOK

		if err := pingDB(ctx, db); err != nil {
			out.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			out.Checks["database"] = "ok"
		}
		for name, c := range checks {
			if err := c(ctx); err != nil {
				out.Checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "ok"
		}
		if code != http.StatusOK {
			out.Status = "unavailable"
		}
		write(w, code, out)
	}).Methods(http.MethodGet)
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
