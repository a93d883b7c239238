package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/catalog"
	"github.com/mprlab/coursedeck/internal/rbac"
	"github.com/mprlab/coursedeck/pkg/sessionvalidator"
	"go.uber.org/zap"
)

// MountCatalogRoutes registers the course/enrollment/progress/note API under
// the validated-session middleware. Permissions derive from the signed
// token's roles, never from the client-written mirror cookie.
func MountCatalogRoutes(router gin.IRouter, validator *sessionvalidator.Validator, store *catalog.Store, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(""))

	api.GET("/courses", func(contextGin *gin.Context) {
		if !requirePermission(contextGin, rbac.PermCoursesView) {
			return
		}
		courses, listErr := store.ListCourses(contextGin.Request.Context())
		if listErr != nil {
			logger.Error("course listing failed",
				zap.String("code", "api.courses.list_failed"),
				zap.Error(listErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"courses": coursePayload(courses)})
	})

	api.GET("/courses/:id", func(contextGin *gin.Context) {
		if !requirePermission(contextGin, rbac.PermCoursesView) {
			return
		}
		course, getErr := store.GetCourse(contextGin.Request.Context(), contextGin.Param("id"))
		if getErr != nil {
			if errors.Is(getErr, catalog.ErrCourseNotFound) {
				contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "course_not_found"})
				return
			}
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, courseEntry(course))
	})

	api.POST("/courses", func(contextGin *gin.Context) {
		claims, ok := requireClaims(contextGin)
		if !ok || !requirePermission(contextGin, rbac.PermCoursesCreate) {
			return
		}
		var inbound struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.Title) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		courseID, createErr := store.CreateCourse(contextGin.Request.Context(), inbound.Title, inbound.Description, claims.GetUserID())
		if createErr != nil {
			logger.Error("course creation failed",
				zap.String("code", "api.courses.create_failed"),
				zap.Error(createErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusCreated, gin.H{"course_id": courseID})
	})

	api.POST("/courses/:id/enroll", func(contextGin *gin.Context) {
		claims, ok := requireClaims(contextGin)
		if !ok || !requirePermission(contextGin, rbac.PermCoursesView) {
			return
		}
		enrollErr := store.Enroll(contextGin.Request.Context(), contextGin.Param("id"), claims.GetUserID())
		switch {
		case enrollErr == nil:
			contextGin.Status(http.StatusNoContent)
		case errors.Is(enrollErr, catalog.ErrCourseNotFound):
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "course_not_found"})
		case errors.Is(enrollErr, catalog.ErrAlreadyEnrolled):
			contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already_enrolled"})
		default:
			contextGin.AbortWithStatus(http.StatusInternalServerError)
		}
	})

	api.PUT("/lessons/:id/progress", func(contextGin *gin.Context) {
		claims, ok := requireClaims(contextGin)
		if !ok || !requirePermission(contextGin, rbac.PermProgressTrack) {
			return
		}
		var inbound struct {
			Completed bool `json:"completed"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if progressErr := store.UpsertProgress(contextGin.Request.Context(), contextGin.Param("id"), claims.GetUserID(), inbound.Completed); progressErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	api.POST("/notes", func(contextGin *gin.Context) {
		claims, ok := requireClaims(contextGin)
		if !ok || !requirePermission(contextGin, rbac.PermNotesCreate) {
			return
		}
		var inbound struct {
			LessonID string `json:"lesson_id"`
			Body     string `json:"body"`
		}
		if bindErr := contextGin.BindJSON(&inbound); bindErr != nil || strings.TrimSpace(inbound.LessonID) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		noteID, noteErr := store.AddNote(contextGin.Request.Context(), claims.GetUserID(), inbound.LessonID, inbound.Body)
		if noteErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusCreated, gin.H{"note_id": noteID})
	})

	api.GET("/notes", func(contextGin *gin.Context) {
		claims, ok := requireClaims(contextGin)
		if !ok || !requirePermission(contextGin, rbac.PermNotesView) {
			return
		}
		notes, listErr := store.ListNotes(contextGin.Request.Context(), claims.GetUserID())
		if listErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		payload := make([]gin.H, 0, len(notes))
		for _, note := range notes {
			payload = append(payload, gin.H{"note_id": note.ID, "lesson_id": note.LessonID, "body": note.Body})
		}
		contextGin.JSON(http.StatusOK, gin.H{"notes": payload})
	})

	api.GET("/admin/stats", func(contextGin *gin.Context) {
		if !requirePermission(contextGin, rbac.PermStatsView) {
			return
		}
		stats, statsErr := store.AdminStats(contextGin.Request.Context())
		if statsErr != nil {
			logger.Error("stats aggregation failed",
				zap.String("code", "api.admin.stats_failed"),
				zap.Error(statsErr))
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"courses":     stats.CourseCount,
			"enrollments": stats.EnrollmentCount,
			"notes":       stats.NoteCount,
		})
	})
}

func requireClaims(contextGin *gin.Context) (*sessionvalidator.Claims, bool) {
	claims, found := sessionvalidator.ClaimsFromContext(contextGin, "")
	if !found || claims.GetUserID() == "" {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// requirePermission derives permissions from the validated token roles and
// fails closed when the claim is missing or carries no known role.
func requirePermission(contextGin *gin.Context, permission rbac.Permission) bool {
	claims, found := sessionvalidator.ClaimsFromContext(contextGin, "")
	if !found {
		contextGin.AbortWithStatus(http.StatusUnauthorized)
		return false
	}
	roles, _ := rbac.DecodeRoles(claims.GetUserRoles())
	if !rbac.HasPermission(roles, permission) {
		contextGin.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func coursePayload(courses []catalog.Course) []gin.H {
	payload := make([]gin.H, 0, len(courses))
	for _, course := range courses {
		payload = append(payload, courseEntry(course))
	}
	return payload
}

func courseEntry(course catalog.Course) gin.H {
	return gin.H{
		"course_id":     course.ID,
		"title":         course.Title,
		"description":   course.Description,
		"instructor_id": course.InstructorID,
		"lesson_count":  course.LessonCount,
	}
}
