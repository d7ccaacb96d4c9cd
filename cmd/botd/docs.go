package main

// General API documentation for swaggo. Regenerate with `swag init -g cmd/botd/docs.go`.
//
// @title           botd API
// @version         1.0
// @description     Resident text-generation daemon. Generation is served on any GET path of the
// @description     main listener; operator endpoints live on the admin listener.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
