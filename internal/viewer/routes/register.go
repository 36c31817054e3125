package routes

import (
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/cache"
	"github.com/petervdpas/boombox/internal/listen"
	"github.com/petervdpas/boombox/internal/logs"
	"github.com/petervdpas/boombox/internal/player"
	"github.com/petervdpas/boombox/internal/state"
	"github.com/petervdpas/boombox/internal/storage"
)

var log = logging.Logger("viewer")

// Session is the transport's room membership as the API sees it.
type Session interface {
	ID() string
	Room() string
	MasterID() string
	JoinSession(room string) error
	LeaveSession()
}

type Deps struct {
	Listen  *listen.Manager
	Player  *player.Controller
	Session Session
	Members *state.MemberTable
	History *storage.DB
	Cache   *cache.Store
	Logs    *logs.Buffer
}

// Handler builds the local control API. Every route is loopback-only.
func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()
	Register(mux, d)
	return localOnly(mux)
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerListenRoutes(mux, d)
	registerSessionRoutes(mux, d)
	registerCacheRoutes(mux, d)
}
