package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attemptlog"
	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/geo"
	"geoattend/internal/location"
	"geoattend/internal/session"
	"geoattend/internal/verdict"
)

type pointRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,latitude"`
	Longitude *float64 `json:"longitude" binding:"required,longitude"`
}

func (p pointRequest) point() geo.GeoPoint {
	return geo.GeoPoint{Latitude: *p.Latitude, Longitude: *p.Longitude}
}

func (s *Server) devToken(c *gin.Context) {
	var req struct {
		Subject string `json:"subject" binding:"required"`
		Role    string `json:"role" binding:"required,oneof=student teacher admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tokens, err := auth.Issue(req.Subject, req.Role, s.opts.JWTIssuer, s.opts.JWTSigningKey, s.opts.AccessTTL, s.opts.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		ClassID   string    `json:"class_id" binding:"required"`
		StartTime time.Time `json:"start_time" binding:"required"`
		EndTime   time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if _, err := s.attendance.GetClass(ctx, req.ClassID); err != nil {
		writeError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	created, err := s.sessions.Create(ctx, session.Session{
		ClassID:   req.ClassID,
		TeacherID: claims.Subject,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ownedSession loads the session in the path and checks the caller may manage it.
func (s *Server) ownedSession(c *gin.Context) (session.Session, bool) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return session.Session{}, false
	}
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role != auth.RoleAdmin && claims.Subject != sess.TeacherID {
		writeError(c, fmt.Errorf("%w: session belongs to another teacher", errForbidden))
		return session.Session{}, false
	}
	return sess, true
}

func (s *Server) startSession(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	started, err := s.sessions.Start(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, started)
}

func (s *Server) completeSession(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	// The body is optional; chunked requests carry no length, so an empty
	// body shows up as io.EOF from the decoder.
	var teacherLoc *geo.GeoPoint
	var req pointRequest
	switch err := c.ShouldBindJSON(&req); {
	case errors.Is(err, io.EOF):
		// no teacher location
	case err != nil:
		badRequest(c, err)
		return
	default:
		p := req.point()
		teacherLoc = &p
	}
	done, err := s.sessions.Complete(c.Request.Context(), sess.ID, teacherLoc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, done)
}

func (s *Server) updateTeacherLocation(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	var req pointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	updated, err := s.sessions.UpdateTeacherLocation(c.Request.Context(), sess.ID, req.point())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) markAttendance(c *gin.Context) {
	var report location.Report
	if err := c.ShouldBindJSON(&report); err != nil {
		badRequest(c, err)
		return
	}
	if err := report.Validate(); err != nil {
		writeError(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	res, err := s.attendance.MarkAttendance(c.Request.Context(), claims.Subject, c.Param("id"), report.Acquirer())
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Outcome.Status == verdict.DeviceError {
		c.JSON(http.StatusOK, gin.H{
			"outcome": res.Outcome,
			"message": res.Outcome.Reason.Message(),
			"retry":   true,
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listRecords(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	recs, err := s.attendance.Records(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": nonNil(recs)})
}

func (s *Server) proxyReview(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	recs, err := s.attendance.ProxyReview(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": nonNil(recs)})
}

func (s *Server) listAttempts(c *gin.Context) {
	sess, ok := s.ownedSession(c)
	if !ok {
		return
	}
	attempts, err := s.attendance.Attempts(c.Request.Context(), sess.ID, c.Param("student"))
	if err != nil {
		writeError(c, err)
		return
	}
	if attempts == nil {
		attempts = []attemptlog.Attempt{}
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (s *Server) setClassLocation(c *gin.Context) {
	var req struct {
		pointRequest
		Radius     float64 `json:"radius" binding:"required,gt=0"`
		Name       string  `json:"name"`
		CourseCode string  `json:"course_code"`
		Room       string  `json:"room"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	class, err := s.attendance.SetClassLocation(c.Request.Context(), attendance.Class{
		ID:         c.Param("id"),
		Name:       req.Name,
		CourseCode: req.CourseCode,
		Room:       req.Room,
		Location:   verdict.ReferenceLocation{Point: req.point(), Radius: req.Radius},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func (s *Server) getClass(c *gin.Context) {
	class, err := s.attendance.GetClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, class)
}

func nonNil(recs []attendance.Record) []attendance.Record {
	if recs == nil {
		return []attendance.Record{}
	}
	return recs
}
