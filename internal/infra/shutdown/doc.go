// Package shutdown runs named cleanup hooks when the process is asked to
// stop.
//
// Hooks run in reverse registration order under one shared deadline, so a
// component registered after its dependencies is stopped before them.
// Every hook runs even when an earlier one fails; the failures are
// returned together.
//
//	h := shutdown.NewHandler(15*time.Second, logger)
//	h.OnShutdown("persister", persister.Close)
//	h.OnShutdownContext("http", srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
