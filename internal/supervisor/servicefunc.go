// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

package supervisor

import "context"

// ServiceFunc adapts a context-aware run loop — such as
// websocket.Hub.RunWithContext, which already matches suture.Service's
// shape — into a named Task for AddMessagingTask/AddDataTask/AddAPITask,
// so the supervisor's logs identify it by name instead of a closure
// address.
type ServiceFunc struct {
	Name string
	Run  func(ctx context.Context) error
}

// Serve implements suture.Service.
func (s ServiceFunc) Serve(ctx context.Context) error { return s.Run(ctx) }

// String implements fmt.Stringer for supervisor logging.
func (s ServiceFunc) String() string { return s.Name }
