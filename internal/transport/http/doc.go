// Package http implements the gateway's HTTP handlers. Handlers stay thin:
// they parse the request, hand a command to the translator and render the
// CommandResponse.
//
// # Routes
//
//	POST   /process     {"args": "<verb> <key> [<value>]"}
//	GET    /item/{key}  same as "get <key>"
//	DELETE /item/{key}  same as "del <key>"
//	GET    /ping        {"code":"Ok","data":"PONG"} without an engine call
//
// Every route sits behind the Basic-Auth middleware, which stores the
// verified login in the request context as the command identity.
//
// # Errors
//
// A body that is not JSON, lacks args, or holds a command line with the wrong
// number of tokens is answered with 400 and an APIError body before the
// engine is called. An unknown verb is answered with 404 and the usual
// {"code":"Err","data":null} body. Engine failures are not HTTP errors; they
// arrive as a 200 with code Err or NotAllowed.
//
// # Testing
//
// Handlers are tested with httptest against an in-memory engine:
//
//	h := NewCommandHandler(translator, logger)
//	r := chi.NewRouter()
//	h.Register(r)
//	rec := httptest.NewRecorder()
//	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
package http
