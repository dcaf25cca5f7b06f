// Package models contains domain types for frepi.
package models

// DataSource records how a staged value entered the system.
type DataSource string

const (
	SourceInvoiceExtraction DataSource = "invoice_extraction"
	SourceManualEntry       DataSource = "manual_entry"
	SourceInferred          DataSource = "inferred"
	SourceUserStated        DataSource = "user_stated"
	SourceUserConfirmed     DataSource = "user_confirmed"
	SourceUserRejected      DataSource = "user_rejected"
)

// ValidDataSources contains all valid provenance values.
var ValidDataSources = []DataSource{
	SourceInvoiceExtraction,
	SourceManualEntry,
	SourceInferred,
	SourceUserStated,
	SourceUserConfirmed,
	SourceUserRejected,
}

// IsValidDataSource checks if the given source is valid.
func IsValidDataSource(s DataSource) bool {
	for _, v := range ValidDataSources {
		if v == s {
			return true
		}
	}
	return false
}
