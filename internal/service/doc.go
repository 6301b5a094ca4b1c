// Package service contains the application's business logic, coordinating
// between the HTTP layer, persistence, and background task execution.
package service
