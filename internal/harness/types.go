package harness

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every query agreed with the oracle and with its
	// expectations.
	Pass bool `json:"pass"`

	// Queries holds one entry per scenario query, in order.
	Queries []QueryResult `json:"queries"`

	// Errors contains mismatch messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// QueryResult is what the engine and the oracle returned for one query.
type QueryResult struct {
	Name string `json:"name"`

	// Text is the SQLite command text the engine ran.
	Text string `json:"text"`

	// Engine and Oracle are the normalized results; nil when the query
	// failed.
	Engine any `json:"engine"`
	Oracle any `json:"oracle"`

	// Err is the engine error message, if any.
	Err string `json:"error,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Queries: []QueryResult{},
		Errors:  []string{},
	}
}

// AddError adds a mismatch message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
