// Package socks5 holds the SOCKS5 handshake steps used by the local SOCKS5
// listener, built on the protocol types in github.com/txthinking/socks5.
//
// The server side negotiates no-auth or username/password, reads the
// request and writes replies. The client side exists for exercising the
// listener and speaks the same subset.
package socks5
