// Package dialer opens outbound TCP connections for one set of connectivity
// settings.
//
// Direct and SOCKS settings connect straight to the destination. HTTPS tunnel
// settings connect to an HTTP proxy and issue a CONNECT request, answering a
// Basic authentication challenge at most once.
package dialer
