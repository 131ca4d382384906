// Package httpapi carries the authlab login flow over HTTP and JSON.
//
// [Server] mounts the routes on an httprouter tree and maps engine error
// kinds to HTTP statuses. [Client] speaks the same protocol and maps the
// statuses back to the authlab sentinels, so an authlab.Flow can drive a
// remote engine exactly as it drives a local one.
//
// Error bodies have the shape
//
//	{"error": {"code": "token_expired", "message": "token expired"}}
//
// and never carry token or secret material.
package httpapi
