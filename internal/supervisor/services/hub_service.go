// Relay - Real-time Messaging Gateway for StudyPath
// Copyright 2026 StudyPath
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/studypath/relay

// Package services wraps the gateway's long-running components as
// suture services.
package services

import (
	"context"
)

// ContextHub matches *realtime.Hub's RunWithContext method. The
// interface keeps this package free of a realtime import.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the realtime hub as a supervised service. The hub's
// RunWithContext already follows the suture.Service pattern, so the
// wrapper just delegates and names the service for logging.
type HubService struct {
	hub  ContextHub
	name string
}

// NewHubService creates a hub service wrapper.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{
		hub:  hub,
		name: "realtime-hub",
	}
}

// Serve implements suture.Service. It returns ctx.Err() on normal
// shutdown after the hub has closed all clients.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *HubService) String() string {
	return s.name
}
