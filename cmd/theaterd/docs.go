package main

// General API documentation for swaggo. The served document is registered in
// internal/httpapi/swagger.go.
//
// @title           theaterd API
// @version         1.0
// @description     Appends generated theater scenes to chat replies.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
