package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/identitylog/internal/db"
	"gorm.io/gorm"
)

// ErrIdentityNotFound 在指定身份不存在时返回
var ErrIdentityNotFound = errors.New("identity not found")

// IdentityService 负责身份的增删改查
// 删除时先解除习惯堆叠、任务与证明的挂接，再删除身份本身
type IdentityService struct {
	db *gorm.DB
}

// IdentityInput 定义创建/更新身份时可配置字段
type IdentityInput struct {
	Name        string
	Description string
	Color       string
	Icon        string
}

// NewIdentityService 构造 IdentityService
func NewIdentityService(gdb *gorm.DB) *IdentityService {
	return &IdentityService{db: gdb}
}

// List 返回用户的全部身份
func (s *IdentityService) List(userID uint) ([]db.Identity, error) {
	var identities []db.Identity
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return identities, nil
}

// Get 根据 ID 获取身份，校验归属
func (s *IdentityService) Get(userID, id uint) (*db.Identity, error) {
	var identity db.Identity
	if err := s.db.Where("user_id = ?", userID).First(&identity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &identity, nil
}

// Create 新建身份
func (s *IdentityService) Create(userID uint, input IdentityInput) (*db.Identity, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("identity name is required")
	}

	identity := db.Identity{
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Color:       strings.TrimSpace(input.Color),
		Icon:        strings.TrimSpace(input.Icon),
	}
	if err := s.db.Create(&identity).Error; err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return &identity, nil
}

// Update 更新身份
func (s *IdentityService) Update(userID, id uint, input IdentityInput) (*db.Identity, error) {
	identity, err := s.Get(userID, id)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.New("identity name is required")
	}

	identity.Name = name
	identity.Description = strings.TrimSpace(input.Description)
	identity.Color = strings.TrimSpace(input.Color)
	identity.Icon = strings.TrimSpace(input.Icon)

	if err := s.db.Save(identity).Error; err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return identity, nil
}

// Delete 删除身份并解除所有挂接记录，挂接记录本身保留
func (s *IdentityService) Delete(userID, id uint) error {
	identity, err := s.Get(userID, id)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.HabitStack{}).
			Where("identity_id = ?", identity.ID).
			Update("identity_id", nil).Error; err != nil {
			return fmt.Errorf("detach habit stacks: %w", err)
		}
		if err := tx.Model(&db.Task{}).
			Where("identity_id = ?", identity.ID).
			Update("identity_id", nil).Error; err != nil {
			return fmt.Errorf("detach tasks: %w", err)
		}
		if err := tx.Where("identity_id = ?", identity.ID).
			Delete(&db.IdentityProof{}).Error; err != nil {
			return fmt.Errorf("delete proofs: %w", err)
		}
		if err := tx.Delete(identity).Error; err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
		return nil
	})
}
