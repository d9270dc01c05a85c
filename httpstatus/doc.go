// Package httpstatus serves liveness, readiness and a JSON status snapshot
// for a running pipeline.
//
//	GET /healthz  always 200 while the process serves
//	GET /readyz   200 once definitions are loaded and the broker is connected
//	GET /status   stage-by-stage snapshot
package httpstatus
