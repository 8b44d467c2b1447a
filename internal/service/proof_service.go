package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/identitylog/internal/db"
	"gorm.io/gorm"
)

// ErrProofNotFound 在指定身份证明不存在时返回
var ErrProofNotFound = errors.New("identity proof not found")

// ProofService 负责身份证明的记录，添加时尽力记录 IdentityProofAdded 事件
type ProofService struct {
	db         *gorm.DB
	milestones *MilestoneService
}

// NewProofService 构造 ProofService
func NewProofService(gdb *gorm.DB, milestones *MilestoneService) *ProofService {
	return &ProofService{db: gdb, milestones: milestones}
}

// ProofInput 定义添加证明时可配置字段
type ProofInput struct {
	IdentityID  uint
	ProofDate   time.Time
	Description string
	Intensity   db.ProofIntensity
}

// List 返回某个身份下的全部证明，按日期倒序
func (s *ProofService) List(userID, identityID uint) ([]db.IdentityProof, error) {
	var proofs []db.IdentityProof
	if err := s.db.Where("user_id = ? AND identity_id = ?", userID, identityID).
		Order("proof_date DESC").
		Find(&proofs).Error; err != nil {
		return nil, fmt.Errorf("list proofs: %w", err)
	}
	return proofs, nil
}

// Add 为身份记录一次自证行为。返回本次触发的新里程碑（可能为空）。
func (s *ProofService) Add(userID uint, input ProofInput) (*db.IdentityProof, []AwardedMilestone, error) {
	var identity db.Identity
	if err := s.db.Where("user_id = ?", userID).
		First(&identity, input.IdentityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrIdentityNotFound
		}
		return nil, nil, fmt.Errorf("get identity: %w", err)
	}

	intensity := input.Intensity
	if !intensity.Valid() {
		intensity = db.ProofIntensityEasy
	}

	proof := db.IdentityProof{
		UserID:      userID,
		IdentityID:  identity.ID,
		ProofDate:   DateOnly(input.ProofDate),
		Description: strings.TrimSpace(input.Description),
		Intensity:   intensity,
	}
	if err := s.db.Create(&proof).Error; err != nil {
		return nil, nil, fmt.Errorf("add proof: %w", err)
	}

	awarded, err := s.milestones.RecordEvent(userID, EventIdentityProofAdded, map[string]any{
		"identity_id": identity.ID,
		"proof_date":  proof.ProofDate.Format("2006-01-02"),
		"intensity":   int(intensity),
	})
	if err != nil {
		logEventFailure(EventIdentityProofAdded, userID, err)
		return &proof, []AwardedMilestone{}, nil
	}
	return &proof, awarded, nil
}

// Delete 删除证明，对应票数被撤销
func (s *ProofService) Delete(userID, id uint) error {
	var proof db.IdentityProof
	if err := s.db.Where("user_id = ?", userID).First(&proof, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProofNotFound
		}
		return fmt.Errorf("get proof: %w", err)
	}
	if err := s.db.Delete(&proof).Error; err != nil {
		return fmt.Errorf("delete proof: %w", err)
	}
	return nil
}
