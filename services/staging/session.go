// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package staging

import (
	"os/user"

	"github.com/google/uuid"
)

// Session identifies the caller of a staging operation. It is passed
// explicitly to every Manager call; the manager keeps no implicit global
// active changeset.
type Session struct {
	// ID is unique per session.
	ID string

	// Actor is the human or tool driving the session.
	Actor string
}

// NewSession creates a session for actor. An empty actor falls back to the
// current OS user name.
func NewSession(actor string) *Session {
	if actor == "" {
		if u, err := user.Current(); err == nil {
			actor = u.Username
		}
	}
	return &Session{ID: uuid.NewString(), Actor: actor}
}
