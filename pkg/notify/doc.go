// Package notify turns feed items into messages and delivers them to every
// destination subscribed to an entity.
package notify
