// Package api contains the HTTP handlers for the due-diligence service:
// triggering research runs, polling task status, retrieving stored
// artifacts, and browsing run history.
package api
