// Package domain contains the core business entities, value objects, and
// domain logic of the application, centered on the research task and its
// status lifecycle. It is independent of any specific infrastructure or
// delivery mechanism.
package domain
