// Package conn holds connection plumbing shared by the dialers and the local
// listeners: keep-alive aware listeners and a context-aware reader for
// blocking sockets.
package conn
