// Package handlers exposes the account, image and view log operations over
// HTTP. Views render as JSON documents.
package handlers

import (
	"context"

	"github.com/petermazzocco/go-image-sharing/internal/auth"
	"github.com/petermazzocco/go-image-sharing/internal/images"
	"github.com/petermazzocco/go-image-sharing/internal/users"
	"github.com/petermazzocco/go-image-sharing/internal/viewlog"
	"go.uber.org/zap"
)

type Handler struct {
	Users  *users.Service
	Images *images.Service
	Views  *viewlog.Log
	Auth   *auth.Manager
	Log    *zap.Logger

	// MaxUploadBytes limits upload request bodies.
	MaxUploadBytes int64
	// SecureCookies marks the ADA cookie Secure.
	SecureCookies bool
	// Ping reports dependency health for /health. Optional.
	Ping func(ctx context.Context) error
}
