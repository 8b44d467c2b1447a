package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/db"
	"github.com/identitylog/internal/service"
)

type identityPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

// GetIdentities 返回用户的全部身份
func GetIdentities(c *gin.Context) {
	userID, _ := currentUserID(c)

	identities, err := service.NewIdentityService(db.DB).List(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load identities")
		return
	}
	c.JSON(http.StatusOK, identities)
}

// CreateIdentity 新建身份
func CreateIdentity(c *gin.Context) {
	userID, _ := currentUserID(c)

	var payload identityPayload
	if !bindJSON(c, &payload, "invalid identity payload") {
		return
	}

	identity, err := service.NewIdentityService(db.DB).Create(userID, service.IdentityInput{
		Name:        payload.Name,
		Description: payload.Description,
		Color:       payload.Color,
		Icon:        payload.Icon,
	})
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusCreated, identity)
}

// UpdateIdentity 更新身份
func UpdateIdentity(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload identityPayload
	if !bindJSON(c, &payload, "invalid identity payload") {
		return
	}

	identity, err := service.NewIdentityService(db.DB).Update(userID, id, service.IdentityInput{
		Name:        payload.Name,
		Description: payload.Description,
		Color:       payload.Color,
		Icon:        payload.Icon,
	})
	if err != nil {
		if errors.Is(err, service.ErrIdentityNotFound) {
			respondError(c, http.StatusNotFound, "identity not found")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, identity)
}

// DeleteIdentity 删除身份，挂接的堆叠与任务解除关联
func DeleteIdentity(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := service.NewIdentityService(db.DB).Delete(userID, id); err != nil {
		if errors.Is(err, service.ErrIdentityNotFound) {
			respondError(c, http.StatusNotFound, "identity not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete identity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

type proofPayload struct {
	ProofDate   string `json:"proof_date"`
	Description string `json:"description"`
	Intensity   int    `json:"intensity"`
}

// GetIdentityProofs 返回身份下的证明列表
func GetIdentityProofs(c *gin.Context) {
	userID, _ := currentUserID(c)

	identityID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	proofs, err := service.NewProofService(db.DB, service.NewMilestoneService(db.DB)).List(userID, identityID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load proofs")
		return
	}
	c.JSON(http.StatusOK, proofs)
}

// AddIdentityProof 为身份添加一条证明，可能触发里程碑
func AddIdentityProof(c *gin.Context) {
	userID, _ := currentUserID(c)

	identityID, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload proofPayload
	if !bindJSON(c, &payload, "invalid proof payload") {
		return
	}

	proofDate := time.Now().UTC()
	if payload.ProofDate != "" {
		parsed, err := time.Parse(dateFormat, payload.ProofDate)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid proof_date")
			return
		}
		proofDate = parsed
	}

	svc := service.NewProofService(db.DB, service.NewMilestoneService(db.DB))
	proof, awarded, err := svc.Add(userID, service.ProofInput{
		IdentityID:  identityID,
		ProofDate:   proofDate,
		Description: payload.Description,
		Intensity:   db.ProofIntensity(payload.Intensity),
	})
	if err != nil {
		if errors.Is(err, service.ErrIdentityNotFound) {
			respondError(c, http.StatusNotFound, "identity not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to add proof")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"proof":          proof,
		"new_milestones": awarded,
	})
}

// DeleteIdentityProof 删除证明
func DeleteIdentityProof(c *gin.Context) {
	userID, _ := currentUserID(c)

	proofID, err := parseUintParam(c, "proofId")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	svc := service.NewProofService(db.DB, service.NewMilestoneService(db.DB))
	if err := svc.Delete(userID, proofID); err != nil {
		if errors.Is(err, service.ErrProofNotFound) {
			respondError(c, http.StatusNotFound, "proof not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete proof")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
