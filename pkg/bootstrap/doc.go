// Package bootstrap assembles a persisted store.
//
// Bootstrap builds a store from a reducer registry and optional initial
// state, installs the rehydration enhancer and the middleware pipeline,
// and starts a persistor restricted to the currentComponent and currentTab
// slices. The callback fires exactly once, after the persisted slices have
// been merged into the state:
//
//	h, err := bootstrap.Bootstrap(ctx, bootstrap.Deps{
//		Registry: reducers.New(),
//		Backend:  stores.NewMemoryBackend(),
//	}, nil, func(err error, s *store.Store) {
//		if err != nil {
//			log.Error().Err(err).Msg("Store not restored")
//		}
//		render(s.GetState())
//	})
//	if err != nil {
//		return err
//	}
//	defer h.Stop(ctx)
//
// App builds the dependencies from a config file: storage backend, scripted
// reducers, seed state, policies and the hub that keeps stores of one
// process in sync.
package bootstrap
