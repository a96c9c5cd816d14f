package sweep

import (
	"context"
	"time"

	"gorm.io/gorm"

	"labreserve-backend/internal/model"
	"labreserve-backend/internal/store"
)

// fakeStore satisfies the parts of store.Store the sweep never touches.
type fakeStore struct{}

func (fakeStore) DB() *gorm.DB { return nil }

func (fakeStore) GetComputer(context.Context, int64) (*model.Computer, error) {
	return nil, store.ErrNotFound
}

func (fakeStore) GetUser(context.Context, int64) (*model.User, error) {
	return nil, store.ErrNotFound
}

func (fakeStore) CountActiveByHolder(context.Context, int64) (int64, error) {
	return 0, nil
}

func (fakeStore) QueryOverlaps(context.Context, int64, time.Time, time.Time) ([]model.Reservation, error) {
	return nil, nil
}

func (fakeStore) AtomicReserve(context.Context, *model.Reservation, bool) (*model.Reservation, error) {
	return nil, store.ErrNotFound
}

func (fakeStore) AtomicRelease(context.Context, int64, int64, bool) (*model.Reservation, bool, error) {
	return nil, false, store.ErrNotFound
}

func (fakeStore) MarkFault(context.Context, int64, string, bool) ([]model.Reservation, error) {
	return nil, store.ErrNotFound
}

func (fakeStore) SetFixState(context.Context, int64, model.ComputerStatus, model.ComputerStatus, string) error {
	return store.ErrNotFound
}

func (fakeStore) ExpireOverdue(context.Context, time.Time) ([]int64, error) {
	return nil, nil
}

func (fakeStore) RecordHeartbeat(context.Context, int64, bool, float64, float64, time.Time) error {
	return nil
}
