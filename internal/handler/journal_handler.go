package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/db"
	"github.com/identitylog/internal/service"
)

type journalPayload struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	EntryDate string `json:"entry_date"`
}

func (p journalPayload) toInput() (service.JournalInput, error) {
	entryDate := time.Now().UTC()
	if p.EntryDate != "" {
		parsed, err := time.Parse(dateFormat, p.EntryDate)
		if err != nil {
			return service.JournalInput{}, errors.New("invalid entry_date")
		}
		entryDate = parsed
	}
	return service.JournalInput{
		Title:     p.Title,
		Content:   p.Content,
		EntryDate: entryDate,
	}, nil
}

func journalService() *service.JournalService {
	return service.NewJournalService(db.DB, service.NewMilestoneService(db.DB))
}

// GetJournalEntries 返回用户的全部日志条目
func GetJournalEntries(c *gin.Context) {
	userID, _ := currentUserID(c)

	entries, err := journalService().List(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load journal entries")
		return
	}
	c.JSON(http.StatusOK, entries)
}

// CreateJournalEntry 新建日志条目，可能触发里程碑
func CreateJournalEntry(c *gin.Context) {
	userID, _ := currentUserID(c)

	var payload journalPayload
	if !bindJSON(c, &payload, "invalid journal payload") {
		return
	}

	input, err := payload.toInput()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	entry, awarded, err := journalService().Create(userID, input)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entry":          entry,
		"new_milestones": awarded,
	})
}

// UpdateJournalEntry 更新日志条目
func UpdateJournalEntry(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var payload journalPayload
	if !bindJSON(c, &payload, "invalid journal payload") {
		return
	}

	input, err := payload.toInput()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := journalService().Update(userID, id, input)
	if err != nil {
		if errors.Is(err, service.ErrJournalEntryNotFound) {
			respondError(c, http.StatusNotFound, "journal entry not found")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DeleteJournalEntry 删除日志条目
func DeleteJournalEntry(c *gin.Context) {
	userID, _ := currentUserID(c)

	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := journalService().Delete(userID, id); err != nil {
		if errors.Is(err, service.ErrJournalEntryNotFound) {
			respondError(c, http.StatusNotFound, "journal entry not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "failed to delete journal entry")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
