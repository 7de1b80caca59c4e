package postgres

import (
	"github.com/NCIOCPL/cdr-admin-sub007/internal/api"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/notify"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/reaper"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/runner"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/schedule"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/session"
)

// The store must satisfy every consumer-side interface.
var (
	_ api.Store      = (*Store)(nil)
	_ runner.Store   = (*Store)(nil)
	_ reaper.Store   = (*Store)(nil)
	_ notify.Store   = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
	_ session.Store  = (*Store)(nil)
)
