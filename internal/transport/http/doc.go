// Package http exposes entitlement over HTTP: the current access decision,
// license activation and removal, the device id licenses are issued for,
// a health probe, and the activation page.
//
// Handlers stay thin. Decisions come from the entitlement resolver and all
// failures are rendered as RFC 7807 problem documents.
//
//	GET    /api/entitlement        current AccessState
//	GET    /api/license            stored license, masked
//	POST   /api/license/activate   {"token": "..."}
//	DELETE /api/license            remove the stored license
//	GET    /api/device             device id for license requests
//	GET    /api/health             liveness and storage check
package http
