package adaptivity

const (
	deviceFitBonus     = 0.05
	deviceFitPenalty   = -1.0
	defaultModalityKey = "reading"
)

// ScoreVariant computes the preference score for one variant as a sum of
// independent terms. Absent weights contribute zero. The device misfit
// penalty is deliberately large enough to drag the total negative past any
// single positive term.
func ScoreVariant(v *Variant, s *SessionSnapshot) float64 {
	var w ScoreWeights
	if v.ScoreWeights != nil {
		w = *v.ScoreWeights
	}

	score := w.PreferLowAcc * (1 - s.Metrics.AccEWMA)

	if w.PreferThemeMatch != 0 && v.Meta.Theme != "" {
		if p := s.User.Preferences; p != nil && p.Theme != nil && p.Theme.Value == v.Meta.Theme {
			score += w.PreferThemeMatch
		}
	}

	modality := v.Meta.Modality
	if modality == "" {
		modality = defaultModalityKey
	}
	score += w.PreferModality[modality]

	if len(v.Meta.DeviceFit) == 0 {
		score += deviceFitBonus
	} else if deviceFits(v.Meta.DeviceFit, s.Env.Device) {
		score += deviceFitBonus
	} else {
		score += deviceFitPenalty
	}
	return score
}

func deviceFits(fit []Device, device Device) bool {
	for _, d := range fit {
		if d == device {
			return true
		}
	}
	return false
}
