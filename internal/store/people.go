package store

import (
	"context"
	"fmt"
	"time"

	"github.com/d9705996/schoolhub/internal/apperror"
	"github.com/d9705996/schoolhub/internal/model"
)

const livePeople = "deleted_at IS NULL"

// CreatePerson inserts p.
func (s *Store) CreatePerson(ctx context.Context, p *model.Person) error {
	if err := s.conn(ctx).Create(p).Error; err != nil {
		if isDuplicate(err) {
			return apperror.Conflict("account is already linked to another person")
		}
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

// GetPerson returns a live person by id.
func (s *Store) GetPerson(ctx context.Context, id string) (*model.Person, error) {
	var p model.Person
	if err := s.conn(ctx).Where("id = ?", id).Where(livePeople).First(&p).Error; err != nil {
		return nil, notFound(err, "person")
	}
	return &p, nil
}

// GetPersonByAccount returns the live person linked to accountID.
func (s *Store) GetPersonByAccount(ctx context.Context, accountID string) (*model.Person, error) {
	var p model.Person
	if err := s.conn(ctx).Where("account_id = ?", accountID).Where(livePeople).First(&p).Error; err != nil {
		return nil, notFound(err, "person")
	}
	return &p, nil
}

// FindUnlinkedPersonByEmail returns the oldest live, unlinked person in orgID
// carrying email.
func (s *Store) FindUnlinkedPersonByEmail(ctx context.Context, orgID, email string) (*model.Person, error) {
	var p model.Person
	err := s.conn(ctx).
		Where("organization_id = ? AND email = ? AND account_id IS NULL", orgID, model.NormalizeEmail(email)).
		Where(livePeople).
		Order("created_at").
		First(&p).Error
	if err != nil {
		return nil, notFound(err, "person")
	}
	return &p, nil
}

// ListPeople returns the organization's live people ordered by name.
func (s *Store) ListPeople(ctx context.Context, orgID string) ([]model.Person, error) {
	var out []model.Person
	err := s.conn(ctx).Where("organization_id = ?", orgID).Where(livePeople).
		Order("last_name, first_name").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	return out, nil
}

// UpdatePersonProfile writes the editable profile fields of p.
func (s *Store) UpdatePersonProfile(ctx context.Context, p *model.Person) error {
	res := s.conn(ctx).Model(&model.Person{}).Where("id = ?", p.ID).Where(livePeople).
		Updates(map[string]any{
			"first_name":    p.FirstName,
			"last_name":     p.LastName,
			"email":         p.Email,
			"phone_number":  p.PhoneNumber,
			"date_of_birth": p.DateOfBirth,
			"gender":        p.Gender,
			"address":       p.Address,
		})
	if res.Error != nil {
		return fmt.Errorf("update person: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("person not found")
	}
	return nil
}

// LinkPerson sets person.account_id to accountID when the person is
// unlinked or already linked to the same account. claim also sets
// is_claimed. A person linked elsewhere yields a ConflictError, as does an
// account already linked to a different person (enforced by the unique
// index on account_id).
func (s *Store) LinkPerson(ctx context.Context, personID, accountID string, claim bool) error {
	fields := map[string]any{"account_id": accountID}
	if claim {
		fields["is_claimed"] = true
	}
	res := s.conn(ctx).Model(&model.Person{}).
		Where("id = ? AND (account_id IS NULL OR account_id = ?)", personID, accountID).
		Where(livePeople).
		Updates(fields)
	if res.Error != nil {
		if isDuplicate(res.Error) {
			return apperror.Conflict("account is already linked to another person")
		}
		return fmt.Errorf("link person: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.Conflict("person is already linked to another account")
	}
	return nil
}

// ClaimPerson marks the person linked to accountID as claimed. Returns
// false when no person is linked.
func (s *Store) ClaimPerson(ctx context.Context, accountID string) (bool, error) {
	res := s.conn(ctx).Model(&model.Person{}).
		Where("account_id = ?", accountID).Where(livePeople).
		Update("is_claimed", true)
	if res.Error != nil {
		return false, fmt.Errorf("claim person: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UnlinkPerson clears the account link. Returns false when the person was
// already unlinked.
func (s *Store) UnlinkPerson(ctx context.Context, personID string) (bool, error) {
	res := s.conn(ctx).Model(&model.Person{}).
		Where("id = ? AND account_id IS NOT NULL", personID).
		Where(livePeople).
		Updates(map[string]any{"account_id": nil, "is_claimed": false})
	if res.Error != nil {
		return false, fmt.Errorf("unlink person: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SoftDeletePerson hides the person from every lookup.
func (s *Store) SoftDeletePerson(ctx context.Context, id string) error {
	res := s.conn(ctx).Model(&model.Person{}).Where("id = ?", id).Where(livePeople).
		Updates(map[string]any{"deleted_at": time.Now().UTC(), "is_active": false, "account_id": nil})
	if res.Error != nil {
		return fmt.Errorf("soft delete person: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("person not found")
	}
	return nil
}
