package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
)

func (s *Server) TopUsers(c *gin.Context) {
	page := 1
	if parsed, err := parseOptionalInt(c.Query("page")); err != nil {
		AbortWithError(c, newValidationError("page", "invalid_page", "page must be an integer"))
		return
	} else if parsed != nil {
		page = *parsed
	}

	perPage := s.cfg.DefaultPageSize
	if parsed, err := parseOptionalInt(c.Query("per_page")); err != nil {
		AbortWithError(c, newValidationError("per_page", "invalid_per_page", "per_page must be an integer"))
		return
	} else if parsed != nil {
		perPage = *parsed
	}

	referenceDate, err := parseOptionalTime(c.Query("reference_date"))
	if err != nil {
		AbortWithError(c, newValidationError(
			"reference_date",
			"invalid_reference_date",
			"expected ISO format, e.g. 2022-12-01T00:00:00",
		))
		return
	}

	resp, err := s.usagesvc.TopUsers(c.Request.Context(), usagedomain.TopUsersRequest{
		ReferenceDate: referenceDate,
		Page:          page,
		PerPage:       perPage,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UserDetails(c *gin.Context) {
	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		AbortWithError(c, newValidationError("username", "invalid_username", "username is required"))
		return
	}

	timestamp, err := parseOptionalTime(c.Query("timestamp"))
	if err != nil || timestamp == nil {
		AbortWithError(c, newValidationError(
			"timestamp",
			"invalid_timestamp",
			"expected ISO format, e.g. 2022-12-01T00:00:00",
		))
		return
	}

	resp, err := s.usagesvc.UserDetails(c.Request.Context(), usagedomain.UserDetailsRequest{
		Username:  username,
		Timestamp: *timestamp,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
