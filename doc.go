// Package websocket implements a client for the WebSocket protocol
// specified in RFC 6455.
//
// See https://tools.ietf.org/html/rfc6455
//
// Use Dial to open a connection. Conn.Read and Conn.Write exchange
// complete messages while Conn.Reader and Conn.Writer stream them.
// Every frame written by this package is masked as required of clients
// and control frames from the peer are handled automatically during
// reads.
//
// This package does not implement the server side of the protocol nor
// any extensions such as permessage-deflate.
package websocket
