// Package http implements the REST surface of policyhub on chi.
//
// Handlers are thin: they parse and validate the request, call the license
// service and render the result. Every error is answered as an RFC 7807
// problem document through errors.ErrorHandler.
//
// Routes mounted under /api:
//
//	POST /license                       upload an encrypted license file
//	GET  /license/status                whether a policy document is held
//	GET  /policies/{applicationID}      current fragments of one application
//	GET  /health, /health/live          health and liveness
package http
