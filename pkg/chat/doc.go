// Package chat delivers rendered messages to chat destinations.
//
// A destination is a URI whose scheme selects the transport:
//
//	twitch:#channel
//	telegram:<chat id>
//	console:<name>
package chat
