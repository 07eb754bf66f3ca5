package simplequeue

import (
	"context"

	"github.com/domonda/go-types/uu"
)

var _ Backend = NopBackend{}

// NopBackend is a Backend implementation
// that does nothing and returns nil for
// all its method result values.
// Pushed jobs are discarded and no job is ever reserved.
type NopBackend struct{}

func (NopBackend) CreateSchema(context.Context) error                         { return nil }
func (NopBackend) StoreJob(context.Context, *Job) error                       { return nil }
func (NopBackend) ReserveNextJob(context.Context, string) (*Job, error)       { return nil, nil }
func (NopBackend) ReserveJob(context.Context, uu.ID) (*Job, error)            { return nil, nil }
func (NopBackend) ReserveNextFailedJob(context.Context, string) (*Job, error) { return nil, nil }
func (NopBackend) DeleteJob(context.Context, uu.ID) error                     { return nil }
func (NopBackend) MarkJobFailed(context.Context, uu.ID) error                 { return nil }
func (NopBackend) GetStatus(context.Context, string) (*Status, error)         { return nil, nil }
func (NopBackend) PurgeAll(context.Context) error                             { return nil }
func (NopBackend) Close() error                                               { return nil }
