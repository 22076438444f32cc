// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"mineskin.org/mineskin/accountpool"
	"mineskin.org/mineskin/generator"
	"mineskin.org/mineskin/mojang"
	"mineskin.org/mineskin/optimus"
	"mineskin.org/mineskin/secrets"
	"mineskin.org/mineskin/skinimage"
)

func TestErrorInfo(t *testing.T) {
	tests := []struct {
		err       error
		errorType string
		status    int
	}{
		{skinimage.ErrInvalidImage.New("bad"), "INVALID_IMAGE", http.StatusBadRequest},
		{generator.ErrInvalidImageURL.New("bad"), "INVALID_IMAGE_URL", http.StatusBadRequest},
		{mojang.ErrInvalidUUID.New("bad"), "INVALID_UUID", http.StatusBadRequest},
		{accountpool.ErrNoAccount.New("empty"), "NO_ACCOUNT_AVAILABLE", http.StatusServiceUnavailable},
		{optimus.ErrExhausted.New("full"), "FAILED_TO_CREATE_ID", http.StatusInternalServerError},
		{mojang.ErrSkinChange.New("rejected"), "SKIN_CHANGE_FAILED", http.StatusInternalServerError},
		{mojang.ErrInvalidSkinData.New("none"), "INVALID_SKIN_DATA", http.StatusInternalServerError},
		{secrets.ErrUnreadable.New("garbled"), "CREDENTIAL_UNREADABLE", http.StatusInternalServerError},
		{mojang.ErrAuth.New("denied"), "AUTH", http.StatusInternalServerError},
		{Error.New("name too long"), "BAD_REQUEST", http.StatusBadRequest},
		{errs.New("boom"), "INTERNAL", http.StatusInternalServerError},
	}

	for _, test := range tests {
		errorType, status := errorInfo(test.err)
		require.Equal(t, test.errorType, errorType, test.err.Error())
		require.Equal(t, test.status, status, test.err.Error())
	}

	t.Run("wrapped errors keep their class", func(t *testing.T) {
		errorType, status := errorInfo(generator.Error.Wrap(accountpool.ErrNoAccount.New("empty")))
		require.Equal(t, "NO_ACCOUNT_AVAILABLE", errorType)
		require.Equal(t, http.StatusServiceUnavailable, status)
	})

	t.Run("skin data wrap outranks the image class", func(t *testing.T) {
		errorType, status := errorInfo(mojang.ErrInvalidSkinData.Wrap(skinimage.ErrInvalidImage.New("too big")))
		require.Equal(t, "INVALID_SKIN_DATA", errorType)
		require.Equal(t, http.StatusInternalServerError, status)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/generate/url", nil)
	req.RemoteAddr = "192.0.2.1:51234"
	require.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	require.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.7 , 10.0.0.1, 10.0.0.2")
	require.Equal(t, "203.0.113.7", clientIP(req))
}
