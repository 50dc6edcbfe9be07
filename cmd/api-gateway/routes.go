package main

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/school-portal-api/internal/handler"
	internalmiddleware "github.com/noah-isme/school-portal-api/internal/middleware"
	"github.com/noah-isme/school-portal-api/internal/models"
)

type routeHandlers struct {
	auth           *handler.AuthHandler
	workflow       *handler.WorkflowHandler
	enrollment     *handler.EnrollmentHandler
	classApproval  *handler.ClassApprovalHandler
	creditTransfer *handler.CreditTransferHandler
	access         *handler.AccessHandler
	document       *handler.DocumentHandler
	metrics        *handler.MetricsHandler

	features internalmiddleware.FeatureChecker
}

var staff = []models.UserRole{
	models.RoleRegistrar,
	models.RoleFinance,
	models.RoleProgramHead,
	models.RoleDean,
	models.RoleAdmin,
}

func registerRoutes(api *gin.RouterGroup, h routeHandlers, tokens internalmiddleware.TokenValidator) {
	api.Use(internalmiddleware.WithResponseMeta())

	api.POST("/auth/login", h.auth.Login)
	// Signed links carry their own authorization.
	api.GET("/documents/:token", h.document.Download)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokens))

	secured.GET("/auth/me", h.auth.Me)

	academicRecords := internalmiddleware.RequireFeature(h.features, models.FeatureAcademicRecords)

	wf := secured.Group("/workflows")
	wf.POST("/transition", h.workflow.Transition)
	wf.GET("/:type/edges", h.workflow.Edges)
	wf.GET("/:type/:id/transitions", h.workflow.Available)
	wf.GET("/:type/:id/history", h.workflow.History)

	enrollments := secured.Group("/enrollments")
	enrollments.POST("", internalmiddleware.RequireRoles(models.RoleStudent, models.RoleRegistrar, models.RoleAdmin), h.enrollment.Register)
	enrollments.GET("/:id", h.enrollment.Get)
	enrollments.POST("/:id/documents/:kind", h.enrollment.UploadDocument)
	enrollments.GET("/:id/documents/:kind", h.enrollment.DocumentLink)
	enrollments.POST("/:id/fees", internalmiddleware.RequireRoles(models.RoleFinance), h.enrollment.AssessFee)
	enrollments.POST("/:id/payments", internalmiddleware.RequireRoles(models.RoleFinance), h.enrollment.RecordPayment)
	enrollments.GET("/:id/ledger", h.enrollment.Ledger)

	classes := secured.Group("/class-approvals")
	classes.POST("", internalmiddleware.RequireRoles(models.RoleProgramHead, models.RoleRegistrar, models.RoleAdmin), h.classApproval.Create)
	classes.GET("/:id", h.classApproval.Get)
	classes.GET("/:id/grades", h.classApproval.ListGrades)
	classes.PUT("/:id/grades", internalmiddleware.RequireRoles(models.RoleInstructor), h.classApproval.UpsertGrades)
	classes.PUT("/:id/grades/:studentId/registrar-approval", internalmiddleware.RequireRoles(models.RoleRegistrar), h.classApproval.SetRegistrarApproval)

	transfers := secured.Group("/credit-transfers")
	transfers.POST("", internalmiddleware.RequireRoles(models.RoleStudent, models.RoleRegistrar, models.RoleAdmin), academicRecords, h.creditTransfer.Create)
	transfers.GET("/:id", h.creditTransfer.Get)
	transfers.POST("/:id/transcript", h.creditTransfer.UploadTranscript)
	transfers.POST("/:id/equivalencies", internalmiddleware.RequireRoles(models.RoleProgramHead), h.creditTransfer.AddEquivalency)
	transfers.PUT("/:id/equivalencies/:equivalencyId", internalmiddleware.RequireRoles(models.RoleProgramHead), h.creditTransfer.UpdateEquivalency)
	transfers.DELETE("/:id/equivalencies/:equivalencyId", internalmiddleware.RequireRoles(models.RoleProgramHead), h.creditTransfer.RemoveEquivalency)

	students := secured.Group("/students/:id")
	students.Use(internalmiddleware.RequireSelfOr("id", staff...))
	students.GET("/enrollments", h.enrollment.ListByStudent)
	students.GET("/access", h.access.Get)
	students.GET("/grades", academicRecords, h.classApproval.VisibleGrades)
	students.GET("/credits", academicRecords, h.creditTransfer.Credits)
}
