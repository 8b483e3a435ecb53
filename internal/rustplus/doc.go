// Package rustplus is the companion-protocol client for remote game servers.
//
// The wire schema is owned here instead of being generated from the vendor's
// proto file. Every field of a server-to-client message is optional at
// decode time: fields the vendor later stops sending decode to zero values,
// and fields this package does not know are skipped. Requests still carry
// the fields the server requires.
package rustplus
