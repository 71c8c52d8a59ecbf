package main

// General API documentation for the status endpoint served by
// `servectl launch --status-addr`. Built with `-tags swagger`.
//
// @title           servectl status API
// @version         1.0
// @description     Read-only view of the supervised inference engine: lifecycle state, profiles and metrics.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
