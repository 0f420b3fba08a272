package surface

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agwidera/meca/internal/httputil"
	"github.com/agwidera/meca/internal/monitoring"
)

// ServeMux returns the status API:
//
//	GET  /api/measurement/status       current Status
//	POST /api/measurement/stop         stop after the current point
//	GET  /api/measurement/plots/{name} latest rendered plot
func (c *Console) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/measurement/status", c.statusHandler)
	mux.HandleFunc("/api/measurement/stop", c.stopHandler)
	mux.HandleFunc("/api/measurement/plots/{name}", c.plotHandler)
	return mux
}

func (c *Console) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, c.Snapshot())
}

func (c *Console) stopHandler(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !c.Stop() {
		httputil.Conflict(w, "no measurement running")
		return
	}
	monitoring.Logf("stop requested from %s", r.RemoteAddr)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (c *Console) plotHandler(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	path, ok := c.plotFile(r.PathValue("name"))
	if !ok {
		httputil.NotFound(w, "no such plot")
		return
	}
	data, err := c.fs.ReadFile(path)
	if err != nil {
		httputil.NotFound(w, "no such plot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// ListenAndServe serves the status API on addr until ctx is cancelled.
func (c *Console) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           c.ServeMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	monitoring.Logf("status API listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("status API shutdown error: %v", err)
		return server.Close()
	}
	return nil
}
