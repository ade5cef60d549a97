// Package platform provides the host-side pieces a browser would supply:
// the notification permission prompt and a local push subscription holder.
package platform
