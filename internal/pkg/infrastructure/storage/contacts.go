package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/jackc/pgx/v5"
)

func (s *Storage) QueryContacts(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.EmergencyContact], error) {
	condition := NewCondition(conditions...)
	if condition.sortBy == "" {
		condition.sortBy = "name"
	}

	query := fmt.Sprintf(`
		SELECT contact_id, name, phone, email, role, active, count(*) OVER () AS count
		FROM emergency_contacts
		%s
		ORDER BY %s %s
		%s
	`, condition.Where(), condition.SortBy(), condition.SortOrder(), offsetLimit(condition))

	rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
	if err != nil {
		return types.Collection[types.EmergencyContact]{}, err
	}

	var contactID, name, role string
	var phone, email *string
	var active bool
	var count int64

	contacts := make([]types.EmergencyContact, 0)

	_, err = pgx.ForEachRow(rows, []any{&contactID, &name, &phone, &email, &role, &active, &count}, func() error {
		c := types.EmergencyContact{
			ContactID: contactID,
			Name:      name,
			Role:      role,
			Active:    active,
		}
		if phone != nil {
			c.Phone = *phone
		}
		if email != nil {
			c.Email = *email
		}

		contacts = append(contacts, c)
		return nil
	})
	if err != nil {
		return types.Collection[types.EmergencyContact]{}, err
	}

	return types.Collection[types.EmergencyContact]{
		Data:       contacts,
		Count:      uint64(len(contacts)),
		Offset:     uint64(condition.Offset()),
		Limit:      uint64(condition.Limit()),
		TotalCount: uint64(count),
	}, nil
}

func (s *Storage) SaveContact(ctx context.Context, contact types.EmergencyContact) error {
	if contact.ContactID == "" {
		return ErrNoID
	}

	args := pgx.NamedArgs{
		"contact_id": contact.ContactID,
		"name":       contact.Name,
		"phone":      nullable(contact.Phone),
		"email":      nullable(contact.Email),
		"role":       contact.Role,
		"active":     contact.Active,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO emergency_contacts (contact_id, name, phone, email, role, active)
		VALUES (@contact_id, @name, @phone, @email, @role, @active)
		ON CONFLICT (contact_id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			active = EXCLUDED.active
	`, args)
	if err != nil {
		return errors.Join(ErrStoreFailed, err)
	}

	return nil
}
