// ABOUTME: Version and product identification constants
// ABOUTME: Reported in logs and the UI footer
package version

const (
	// Version is the application version.
	Version = "0.1.0"

	// Product is the product name shown to users.
	Product = "Orbit Assistant"

	// Manufacturer identifies the project.
	Manufacturer = "Orbit"
)
