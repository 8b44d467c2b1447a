package db

import (
	"time"

	"gorm.io/gorm"
)

// ProofIntensity 表示身份证明的强度，整数值即计分权重
type ProofIntensity int

const (
	ProofIntensityEasy     ProofIntensity = 1
	ProofIntensityModerate ProofIntensity = 2
	ProofIntensityHard     ProofIntensity = 3
)

// Valid 校验强度取值是否在定义范围内
func (p ProofIntensity) Valid() bool {
	return p >= ProofIntensityEasy && p <= ProofIntensityHard
}

// IdentityProof 记录一次「我就是这样的人」的自证行为
// ProofDate 为整日粒度；Intensity 映射为 1/2/3 票
type IdentityProof struct {
	gorm.Model
	UserID      uint `gorm:"index"`
	IdentityID  uint `gorm:"index"`
	ProofDate   time.Time
	Description string
	Intensity   ProofIntensity `gorm:"default:1"`
}
