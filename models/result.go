package models

// ReconcileResult summarizes one parse-and-reconcile run
type ReconcileResult struct {
	Success     bool     `json:"success"`
	Parsed      int      `json:"parsed"`
	New         int      `json:"new"`
	Updated     int      `json:"updated"`
	Deactivated int      `json:"deactivated"`
	Skipped     int      `json:"skipped"`
	Changed     int      `json:"changed"`
	Errors      []string `json:"errors,omitempty"`
}

func (r *ReconcileResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Page is one page of catalog entries
type Page struct {
	Items      []CatalogEntry `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

// PageQuery selects a page of the catalog. Active nil means all entries.
type PageQuery struct {
	Page   int
	Limit  int
	Active *bool
}

type Stats struct {
	Total    int     `json:"total"`
	Active   int     `json:"active"`
	Inactive int     `json:"inactive"`
	AvgPrice float64 `json:"avgPrice"`
}
