// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianLabeler/services/labeler/datatypes"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/rulemetrics"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/search"
	"github.com/AleutianAI/AleutianLabeler/services/labeler/storage"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, datatypes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, datatypes.ErrAlreadyExists), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, datatypes.ErrInvalidRule),
		errors.Is(err, rulemetrics.ErrReservedLabel),
		errors.Is(err, rulemetrics.ErrInvalidLabel),
		errors.Is(err, search.ErrUnsupportedFilter),
		errors.As(err, &validationErrs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rulemetrics.ErrMalformedResult):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError replies with the status for err. Server and search engine
// errors are logged and hidden behind msg.
func writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "error", err, "path", c.FullPath())
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}
	slog.Warn(msg, "error", err, "status", status)
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

// writeBindError replies 422 for validation failures and 400 for bodies
// that could not be decoded.
func writeBindError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
