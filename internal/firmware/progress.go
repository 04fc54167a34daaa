package firmware

// EstimateProgress returns the overall install percentage while file
// filesInstalled+1 of totalFiles is being transferred:
//
//	floor(100 * (filesInstalled + sent/total) / totalFiles)
//
// Integer arithmetic keeps the floor exact. A zero fragment total counts as
// no progress within the current file.
func EstimateProgress(filesInstalled, sentFragments, totalFragments, totalFiles int) int {
	if totalFiles <= 0 {
		return 0
	}
	if totalFragments <= 0 {
		return FileProgress(filesInstalled, totalFiles)
	}
	if sentFragments < 0 {
		sentFragments = 0
	}
	if sentFragments > totalFragments {
		sentFragments = totalFragments
	}
	num := 100 * (filesInstalled*totalFragments + sentFragments)
	return clampPercent(num / (totalFragments * totalFiles))
}

// FileProgress returns the coarse percentage after filesInstalled of
// totalFiles have finished: floor(100 * filesInstalled / totalFiles).
func FileProgress(filesInstalled, totalFiles int) int {
	if totalFiles <= 0 {
		return 0
	}
	return clampPercent(100 * filesInstalled / totalFiles)
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
