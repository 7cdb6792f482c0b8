// Package api provides REST API handlers for evmindex
// @title evmindex API
// @version 1.0
// @description REST API for querying multi-chain EVM events indexed by evmindex
// @contact.name API Support
// @contact.url https://github.com/evmindex/evmindex
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @basePath /api/v1
// @schemes http https
// @x-logo {"url":"https://github.com/evmindex/evmindex/raw/main/logo.png"}
package api
