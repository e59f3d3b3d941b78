// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"time"

	"github.com/google/uuid"
)

// Info is a diagnostic snapshot of a SessionBase, suitable for logging or
// exposing to an application's status endpoint.
type Info struct {
	Id        string `json:"id"`
	State     State  `json:"state"`
	CreatedAt string `json:"createdAt"`
}

// InfoBuilder constructs Info values with a fluent API.
type InfoBuilder struct {
	info Info
}

// NewInfoBuilder initializes a builder with default values.
func NewInfoBuilder() *InfoBuilder {
	now := time.Now().UTC()
	return &InfoBuilder{
		info: Info{
			Id:        GeneralPrefix + "-" + uuid.NewString(),
			CreatedAt: now.Format(time.RFC3339),
			State:     Joined,
		},
	}
}

// WithId overrides the generated id, e.g. with the SKE sessionId.
func (b *InfoBuilder) WithId(id string) *InfoBuilder {
	b.info.Id = id
	return b
}

// WithState overrides the FSM state.
func (b *InfoBuilder) WithState(s State) *InfoBuilder {
	b.info.State = s
	return b
}

// Build returns the constructed Info.
func (b *InfoBuilder) Build() Info {
	return b.info
}
