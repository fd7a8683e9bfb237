// Package server exposes the transfer lifecycle over HTTP. It wires the chi
// router, the middleware stack and the handlers for uploads, the download
// page, streaming, operator sessions and on-demand collection.
package server
