package rooms

import (
	"context"
	"net/http"

	"notion-collab/collab"
	"notion-collab/handlers/auth"
	"notion-collab/middleware"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Lister reports the live rooms.
type Lister interface {
	Rooms() []collab.RoomSummary
}

// Revoker ends every session opened with a token.
type Revoker interface {
	Logout(ctx context.Context, p *auth.Principal) (int, error)
}

func HandleListRooms(rooms Lister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := middleware.IdentityFrom(r.Context()); !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		render.JSON(w, r, map[string]any{"rooms": rooms.Rooms()})
	}
}

func HandleLogout(revoker Revoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.PrincipalFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		closed, err := revoker.Logout(r.Context(), principal)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": principal.UserID,
			}).Error("Failed to revoke session")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to log out"})
			return
		}

		logrus.WithFields(logrus.Fields{
			"user_id":  principal.UserID,
			"sessions": closed,
		}).Info("User logged out")
		render.JSON(w, r, map[string]any{"status": "ok", "sessionsClosed": closed})
	}
}
