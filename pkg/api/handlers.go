package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) healthHandler(c *gin.Context) {
	components := map[string]string{"backend": "healthy"}
	status := http.StatusOK
	if _, err := s.font.GetUnitsPerEm(c.Request.Context()); err != nil {
		components["backend"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"components": components,
	})
}

func (s *Server) fontInfoHandler(c *gin.Context) {
	ctx := c.Request.Context()
	upm, err := s.font.GetUnitsPerEm(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}
	axes, err := s.font.GetGlobalAxes(ctx)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unitsPerEm": upm,
		"axes":       axes,
	})
}

func (s *Server) glyphMapHandler(c *gin.Context) {
	glyphMap, err := s.font.GetGlyphMap(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, glyphMap)
}

func (s *Server) glyphHandler(c *gin.Context) {
	name := c.Param("name")
	g, err := s.font.GetGlyph(c.Request.Context(), name)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if g == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "glyph not found",
			"glyph": name,
		})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
