package models

// ClampScore bounds a 0-100 score. Analyzer arithmetic can briefly push a
// score outside the range; persisted values never leave it.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ClampConfidence bounds a 0-1 confidence value.
func ClampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
