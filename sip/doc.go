// Package sip implements the SIP transport and transaction layers: channels
// over UDP, TCP, TLS and WebSocket, the four RFC 3261 transaction state
// machines and the network layer that ties channels, transactions and the
// upper layer together.
package sip
