// Package bridge is the request/reply channel between the capture side and
// the processing side. Requests are answered later, once the backend call
// resolves, and never block the sender.
package bridge
