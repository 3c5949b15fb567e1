package service

import "context"

// Service is one supervised dependency. Every implementation must provide
// Cleanup so shutdown can release whatever the service holds even when a
// graceful Stop already failed.
type Service interface {
	Name() string
	Kind() Kind
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) Status
	Cleanup(ctx context.Context)
}

var (
	_ Service = (*localService)(nil)
	_ Service = (*remoteService)(nil)
)
