// Command bilisub polls Bilibili accounts and posts new videos, dynamics,
// live streams and season episodes to chat destinations.
package main
