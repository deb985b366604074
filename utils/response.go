package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Respond writes the uniform envelope {success, message?, error?, ...payload}.
func Respond(ctx *gin.Context, status int, success bool, message string, payload gin.H) {
	body := gin.H{"success": success}
	if message != "" {
		body["message"] = message
	}
	for k, v := range payload {
		body[k] = v
	}
	ctx.JSON(status, body)
}

// Success returns a 200 envelope.
func Success(ctx *gin.Context, message string, payload gin.H) {
	Respond(ctx, http.StatusOK, true, message, payload)
}

// Created returns a 201 envelope.
func Created(ctx *gin.Context, message string, payload gin.H) {
	Respond(ctx, http.StatusCreated, true, message, payload)
}

// Error returns a failure envelope. detail, when set, is attached under "error".
func Error(ctx *gin.Context, status int, message string, detail string) {
	payload := gin.H{}
	if detail != "" {
		payload["error"] = detail
	}
	Respond(ctx, status, false, message, payload)
}

// Abort writes a failure envelope and stops the handler chain.
func Abort(ctx *gin.Context, status int, message string) {
	Error(ctx, status, message, "")
	ctx.Abort()
}
