package models

// AnalyzerReport is the tagged union carried from an analyzer back to the
// pipeline. Exactly one of the result pointers matching Kind is set; a nil
// pointer with Err set means the sub-result is degraded.
type AnalyzerReport struct {
	Kind       AnalysisKind            `json:"kind"`
	Git        *GitAnalysisResult      `json:"git,omitempty"`
	Security   *SecurityScanResult     `json:"security,omitempty"`
	Findings   []SecurityFinding       `json:"findings,omitempty"`
	Structural *StructuralSearchResult `json:"structural,omitempty"`
	Err        string                  `json:"error,omitempty"`
}

// Degraded reports whether the analyzer failed to produce its typed result.
func (r AnalyzerReport) Degraded() bool {
	switch r.Kind {
	case AnalysisKindGit:
		return r.Git == nil
	case AnalysisKindSecurity:
		return r.Security == nil
	case AnalysisKindStructural:
		return r.Structural == nil
	}
	return true
}
