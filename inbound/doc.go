// Package inbound runs the local callback session that lets a browser-driven
// authorization flow hand a fresh enrollment back to the batch.
//
// A session accepts exactly one enrollment POST. Once that POST has been
// handled the session's supervisor shuts the listener down, and Wait returns
// only after the port has been released.
package inbound
