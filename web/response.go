// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package web

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/generator"
	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/optimus"
	"mineskin.org/mineskin/secrets"
	"mineskin.org/mineskin/skinimage"
)

type skinResponse struct {
	Success     bool        `json:"success"`
	Skin        interface{} `json:"skin"`
	NextRequest int64       `json:"nextRequest"`
}

type errorResponse struct {
	Success     bool   `json:"success"`
	ErrorType   string `json:"errorType"`
	ErrorCode   int    `json:"errorCode"`
	Error       string `json:"error"`
	NextRequest int64  `json:"nextRequest"`
}

// errorInfo maps engine errors onto the stable error taxonomy.
func errorInfo(err error) (errorType string, status int) {
	switch {
	// The user pipeline wraps image errors as skin-data errors; that outer
	// classification wins.
	case mojang.ErrInvalidSkinData.Has(err):
		return "INVALID_SKIN_DATA", http.StatusInternalServerError
	case skinimage.ErrInvalidImage.Has(err):
		return "INVALID_IMAGE", http.StatusBadRequest
	case generator.ErrInvalidImageURL.Has(err):
		return "INVALID_IMAGE_URL", http.StatusBadRequest
	case mojang.ErrInvalidUUID.Has(err):
		return "INVALID_UUID", http.StatusBadRequest
	case accountpool.ErrNoAccount.Has(err):
		return "NO_ACCOUNT_AVAILABLE", http.StatusServiceUnavailable
	case optimus.ErrExhausted.Has(err):
		return "FAILED_TO_CREATE_ID", http.StatusInternalServerError
	case mojang.ErrSkinChange.Has(err):
		return "SKIN_CHANGE_FAILED", http.StatusInternalServerError
	case secrets.ErrUnreadable.Has(err):
		return "CREDENTIAL_UNREADABLE", http.StatusInternalServerError
	case mojang.ErrAuth.Has(err):
		return "AUTH", http.StatusInternalServerError
	case Error.Has(err):
		return "BAD_REQUEST", http.StatusBadRequest
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

func (server *Server) writeSkin(ctx context.Context, w http.ResponseWriter, skin interface{}) {
	server.writeJSON(w, http.StatusOK, skinResponse{
		Success:     true,
		Skin:        skin,
		NextRequest: server.pool.NextRequest(ctx).Unix(),
	})
}

func (server *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	errorType, status := errorInfo(err)
	if status >= http.StatusInternalServerError {
		server.log.Error("request failed", zap.String("type", errorType), zap.Error(err))
	} else {
		server.log.Debug("request rejected", zap.String("type", errorType), zap.Error(err))
	}

	server.writeJSON(w, status, errorResponse{
		Success:     false,
		ErrorType:   errorType,
		ErrorCode:   status,
		Error:       err.Error(),
		NextRequest: server.pool.NextRequest(ctx).Unix(),
	})
}

func (server *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		server.log.Warn("response write failed", zap.Error(err))
	}
}
