// Package supervisor owns the set of running pollers and keeps it in step
// with subscriptions. An entity has at most one poller inside a cycle at any
// time; a replacement waits for a cancelled predecessor to finish.
package supervisor
