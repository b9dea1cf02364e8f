package gateway

import "net/http"

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /orchestrator/chat", s.handleChat)
	mux.HandleFunc("GET /orchestrator/ws", s.handleWebSocket)
	mux.HandleFunc("POST /orchestrator/attachments", s.handleAttachment)
	mux.HandleFunc("GET /orchestrator/conversations/{id}/messages", s.handleMessages)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}
