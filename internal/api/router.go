package api

import (
	"net/http"

	"codoc/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler, verifier middleware.TokenVerifier, allowedOrigins []string) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing, recovery, CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware(allowedOrigins))

	// Preflight requests are answered by the CORS middleware before auth runs
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Account endpoints
	r.HandleFunc("/signup", h.Signup).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")

	// Health check endpoint
	r.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	authenticate := middleware.Authenticate(verifier)

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authenticate)

	// Document endpoints
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.SaveDocument).Methods("PUT")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")

	// Sharing endpoints
	api.HandleFunc("/documents/{id}/editors", h.ListEditors).Methods("GET")
	api.HandleFunc("/documents/{id}/editors", h.AddEditor).Methods("POST")
	api.HandleFunc("/documents/{id}/editors", h.RemoveEditor).Methods("DELETE")

	api.HandleFunc("/documents/{id}/presence", h.GetPresence).Methods("GET")

	// WebSocket route; browsers pass the token as ?token=
	r.Handle("/ws", authenticate(http.HandlerFunc(h.HandleWebSocket)))

	return r
}
