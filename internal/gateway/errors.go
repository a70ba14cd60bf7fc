// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"log/slog"
	"net/http"

	"github.com/novatechflow/kafgate/pkg/apierr"
)

type errorBody struct {
	Message string `json:"message"`
}

// writeError resolves err to a status and writes it as {"message": ...}.
// Client errors log at info, everything else at error.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	res := apierr.Resolve(err)
	level := slog.LevelInfo
	if res.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", res.Status,
		"kind", res.Kind.String(),
		"error", err,
	)
	writeJSON(w, res.Status, errorBody{Message: res.Message})
}
