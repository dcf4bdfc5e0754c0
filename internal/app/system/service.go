package system

import "context"

// Service is one long-running piece of the coordinator, such as the timeout
// sweeper. The Manager starts registered services in order and stops them in
// reverse, so a Service may assume everything registered before it is
// already running when Start is called.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
