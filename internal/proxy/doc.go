// Package proxy implements local listeners that forward client connections
// through a dialer, normally the proxy-aware connection factory.
//
// It contains an HTTP forward proxy (CONNECT and plain requests), a SOCKS5
// server and the bidirectional copy they share.
package proxy
