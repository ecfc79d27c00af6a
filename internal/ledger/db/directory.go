package db

import (
	"context"

	"ms-payouts/internal/models"
)

// Organizers, users and events are owned by other services. These lookups
// only read them.

func (d *DB) GetOrganizer(ctx context.Context, id string) (*models.Organizer, error) {
	var org models.Organizer
	if err := d.Bun.NewSelect().Model(&org).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

func (d *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := d.Bun.NewSelect().Model(&user).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := d.Bun.NewSelect().Model(&event).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}
