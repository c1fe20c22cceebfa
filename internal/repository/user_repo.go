package repository

import (
	"context"

	"gatepass/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserFilter struct {
	Role   string
	Status string
	Search string
	Page   int
	Limit  int
}

// UserRepository defines the interface for data access of User entities
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	List(ctx context.Context, filter UserFilter) ([]model.User, int64, error)
	CountByRole(ctx context.Context, role string) (int64, error)
	Update(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new instance of UserRepository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return translate(GetDB(ctx, r.db).Create(user).Error, "user")
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "email = ?", email).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := GetDB(ctx, r.db).First(&user, "username = ?", username).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	db := GetDB(ctx, r.db).Model(&model.User{})
	if filter.Role != "" {
		db = db.Where("role = ?", filter.Role)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		db = db.Where("(username ILIKE ? OR email ILIKE ?)", like, like)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "user")
	}

	query := db.Order("created_at desc")
	if filter.Limit > 0 {
		query = query.Offset((max(filter.Page, 1) - 1) * filter.Limit).Limit(filter.Limit)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, 0, translate(err, "user")
	}

	return users, total, nil
}

func (r *userRepository) CountByRole(ctx context.Context, role string) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.User{}).Where("role = ?", role).Count(&count).Error
	return count, translate(err, "user")
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	return translate(GetDB(ctx, r.db).Save(user).Error, "user")
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.User{})
	if result.Error != nil {
		return translate(result.Error, "user")
	}
	if result.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound, "user")
	}
	return nil
}
