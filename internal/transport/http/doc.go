// Package http implements HTTP request handlers for the VendDesk local
// service. It provides a thin layer between HTTP transport and the licensing
// logic, keeping handlers focused solely on HTTP concerns.
//
// # Architecture Principles
//
// Handlers in this package follow these principles:
//
//	1. Thin handlers - minimal logic, delegate to the license service
//	2. HTTP-only concerns - request parsing, response formatting
//	3. Error transformation - convert service errors to HTTP responses
//	4. No business logic - all logic belongs in internal/license
//
// # Request Flow
//
// A typical request flows through these layers:
//
//	HTTP Request → Chi Router → Middleware → Handler → license.Service
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// # Handler Structure
//
// Each handler follows this pattern:
//
//	func (h *Handler) HandleSomething(w http.ResponseWriter, r *http.Request) {
//	    // 1. Parse and validate request
//	    req, err := parseRequest(r)
//	    if err != nil {
//	        render.Render(w, r, errors.NewAPIError(...))
//	        return
//	    }
//
//	    // 2. Call the service layer
//	    result, err := h.service.DoSomething(r.Context(), req)
//	    if err != nil {
//	        render.Render(w, r, transformError(err))
//	        return
//	    }
//
//	    // 3. Format and send response
//	    render.JSON(w, r, formatResponse(result))
//	}
//
// # Error Handling
//
// All errors use the shared APIError envelope:
//
//	{
//	    "status_code": 400,
//	    "error_code": "VALIDATION_FAILED",
//	    "message": "The license key format is invalid",
//	    "details": {"field": "license_key"}
//	}
//
// # Middleware Integration
//
// Handlers work with these middleware:
//
//	- RequestID: Adds unique request ID for tracing
//	- StructuredLogger: Structured logging with slog
//	- LicenseGate: Blocks guarded routes when the license is invalid
//	- Recoverer: Handles panics gracefully
//
// # Testing
//
// Handlers are tested using httptest:
//
//	- Stub Hub servers via httptest.Server
//	- Test various HTTP scenarios
//	- Verify error responses
package http
