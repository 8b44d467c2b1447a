package db

import "gorm.io/gorm"

// Identity 定义了身份模型，代表用户希望强化的人格标签（例如「跑者」）
// Color/Icon 仅用于前端展示；习惯堆叠、任务与证明通过可空外键挂接
type Identity struct {
	gorm.Model
	UserID      uint `gorm:"index"`
	Name        string
	Description string
	Color       string
	Icon        string
	HabitStacks []HabitStack    `gorm:"foreignKey:IdentityID"`
	Tasks       []Task          `gorm:"foreignKey:IdentityID"`
	Proofs      []IdentityProof `gorm:"foreignKey:IdentityID"`
}
