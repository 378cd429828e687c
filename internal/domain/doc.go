// Package domain contains the request-scoped types and errors of the conversion service.
// Keep this package free of transport (HTTP) and infrastructure (Redis/Postgres) concerns.
package domain
