// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/holomush/accountd/internal/auth"
	"github.com/holomush/accountd/pkg/errutil"
)

// Response messages.
const (
	MsgHello           = "Hello World!"
	MsgSuccess         = "success"
	MsgAuthenticated   = "Success"
	MsgRegistered      = "User Created Successfully"
	MsgForgotSent      = "Success Send Email Forget Password"
	MsgPasswordUpdated = "Your password has been updated successfully!"
	MsgUnauthorized    = "you're not authorized!"
	MsgRateLimited     = "too many requests, please try again later"
	MsgInternal        = "internal server error"
)

// Envelope is the body of every API response.
type Envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func ok(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Status: true, Message: message, Data: data})
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Status: false, Message: message})
}

type publicError struct {
	status  int
	message string
}

// publicErrors maps error codes to the status and message clients see.
var publicErrors = map[string]publicError{
	auth.CodeInputRequired:      {http.StatusBadRequest, "Input must be required"},
	auth.CodeEmptyPassword:      {http.StatusBadRequest, "Input must be required"},
	auth.CodePasswordTooLong:    {http.StatusBadRequest, "Password must be at most 72 bytes"},
	auth.CodeResetRequired:      {http.StatusBadRequest, "Both password and password confirmation are required!"},
	auth.CodeEmailTaken:         {http.StatusUnauthorized, "Email already used!"},
	auth.CodeInvalidCredentials: {http.StatusBadRequest, "invalid email or password"},
	auth.CodeUserNotFound:       {http.StatusNotFound, "user not found"},
	auth.CodeResetMismatch:      {http.StatusUnauthorized, "Please ensure that the password and password confirmation match!"},
	auth.CodeInvalidToken:       {http.StatusForbidden, "Invalid or expired token!"},
}

// classify returns the status and public message for err. Anything without
// a public mapping is a 500 with a generic message.
func classify(err error) (int, string) {
	if pub, found := publicErrors[errutil.Code(err)]; found {
		return pub.status, pub.message
	}
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "request timed out"
	}
	return http.StatusInternalServerError, MsgInternal
}
