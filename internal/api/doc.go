// Package api provides the certificate shop REST API.
//
//	@title						SSL Shop API
//	@version					1.0
//	@description				Buy, renew and track TLS certificates
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
package api
