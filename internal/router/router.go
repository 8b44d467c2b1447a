package router

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/identitylog/internal/handler"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(sessionSecret string) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("identitylog_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := r.Group("/api")
	{
		api.POST("/auth/login", handler.Login)
		api.POST("/auth/logout", handler.Logout)

		// 同伴视图凭 token 免登录访问
		api.GET("/buddy/:token/today", handler.GetBuddyTodayView)

		// 需要认证的路由
		auth := api.Group("")
		auth.Use(handler.AuthRequired())
		{
			auth.GET("/today", handler.GetTodayView)

			auth.GET("/identities", handler.GetIdentities)
			auth.POST("/identities", handler.CreateIdentity)
			auth.PUT("/identities/:id", handler.UpdateIdentity)
			auth.DELETE("/identities/:id", handler.DeleteIdentity)
			auth.GET("/identities/:id/proofs", handler.GetIdentityProofs)
			auth.POST("/identities/:id/proofs", handler.AddIdentityProof)
			auth.DELETE("/proofs/:proofId", handler.DeleteIdentityProof)

			auth.GET("/habit-stacks", handler.GetHabitStacks)
			auth.POST("/habit-stacks", handler.CreateHabitStack)
			auth.PUT("/habit-stacks/:id", handler.UpdateHabitStack)
			auth.DELETE("/habit-stacks/:id", handler.DeleteHabitStack)
			auth.POST("/habit-stacks/:id/items", handler.AddHabitStackItem)
			auth.DELETE("/habit-items/:itemId", handler.RemoveHabitStackItem)
			auth.POST("/habit-items/:itemId/complete", handler.CompleteHabitStackItem)
			auth.POST("/habit-items/:itemId/uncomplete", handler.UncompleteHabitStackItem)

			auth.GET("/tasks", handler.GetTasks)
			auth.POST("/tasks", handler.CreateTask)
			auth.POST("/tasks/:id/complete", handler.CompleteTask)
			auth.POST("/tasks/:id/reopen", handler.ReopenTask)
			auth.DELETE("/tasks/:id", handler.DeleteTask)

			auth.GET("/journal", handler.GetJournalEntries)
			auth.POST("/journal", handler.CreateJournalEntry)
			auth.PUT("/journal/:id", handler.UpdateJournalEntry)
			auth.DELETE("/journal/:id", handler.DeleteJournalEntry)

			auth.GET("/milestones", handler.GetUserMilestones)
			auth.GET("/milestones/unseen", handler.GetUnseenMilestones)
			auth.POST("/milestones/seen", handler.MarkMilestonesSeen)
			auth.GET("/stats", handler.GetUserStats)

			// 里程碑定义管理
			admin := auth.Group("/admin")
			{
				admin.GET("/milestones", handler.ListMilestoneDefinitions)
				admin.POST("/milestones", handler.CreateMilestoneDefinition)
				admin.PUT("/milestones/:id", handler.UpdateMilestoneDefinition)
				admin.PUT("/milestones/:id/active", handler.ToggleMilestoneDefinition)
				admin.DELETE("/milestones/:id", handler.DeleteMilestoneDefinition)
			}
		}
	}

	return r
}
