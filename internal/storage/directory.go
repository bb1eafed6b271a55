package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/clinicdesk/internal/booking"
	"github.com/clinicdesk/clinicdesk/internal/model"
	"github.com/clinicdesk/clinicdesk/libs/db"
)

// DirectoryRepository reads doctor/patient contact records. The profiles
// themselves are written by the excluded portal CRUD.
type DirectoryRepository struct {
	pool *db.Pool
}

func NewDirectoryRepository(pool *db.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) Doctor(ctx context.Context, id string) (model.Doctor, error) {
	var d model.Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(speciality, '')
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Speciality)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Doctor{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Doctor{}, err
	}
	return d, nil
}

func (r *DirectoryRepository) Patient(ctx context.Context, id string) (model.Patient, error) {
	var p model.Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(phone, '')
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Patient{}, booking.ErrNotFound
	}
	if err != nil {
		return model.Patient{}, err
	}
	return p, nil
}
