package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MountPages registers the server-rendered page routes the request-time gate
// protects. The gate middleware runs before these; by the time a handler
// executes, the coarse path-level decision has already been made.
func MountPages(router gin.IRouter) {
	router.GET("/", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "home"})
	})
	router.GET("/signin", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "signin"})
	})
	router.GET("/signup", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "signup"})
	})
	router.GET("/dashboard", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "dashboard"})
	})
	router.GET("/instructor", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "instructor"})
	})
	router.GET("/instructor/courses", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "instructor_courses"})
	})
	router.GET("/admin", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "admin"})
	})
	router.GET("/admin/stats", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"page": "admin_stats"})
	})
}
