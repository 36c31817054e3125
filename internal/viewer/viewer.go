// Package viewer serves the local control API of a peer.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/boombox/internal/cache"
	"github.com/petervdpas/boombox/internal/listen"
	"github.com/petervdpas/boombox/internal/logs"
	"github.com/petervdpas/boombox/internal/player"
	"github.com/petervdpas/boombox/internal/state"
	"github.com/petervdpas/boombox/internal/storage"
	"github.com/petervdpas/boombox/internal/util"
	"github.com/petervdpas/boombox/internal/viewer/routes"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Listen  *listen.Manager
	Player  *player.Controller
	Session routes.Session
	Members *state.MemberTable
	History *storage.DB
	Cache   *cache.Store
	Logs    *logs.Buffer
}

func (v Viewer) Handler() http.Handler {
	deps := routes.Deps{
		Listen:  v.Listen,
		Player:  v.Player,
		Session: v.Session,
		Members: v.Members,
		History: v.History,
		Cache:   v.Cache,
		Logs:    v.Logs,
	}
	return routes.Handler(deps)
}

// Start serves the API on addr until ctx is done.
func Start(ctx context.Context, addr string, v Viewer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, v)
}

func Serve(ctx context.Context, ln net.Listener, v Viewer) error {
	srv := &http.Server{
		Handler:           v.Handler(),
		ReadHeaderTimeout: util.DefaultRequestTimeout,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Infof("control API on http://%s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
