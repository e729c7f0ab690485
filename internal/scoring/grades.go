package scoring

// GradeInfo 等级区间
type GradeInfo struct {
	Max         int
	Grade       string
	Label       string
	Explanation string
}

var grades = []GradeInfo{
	{29, "A", "Low Risk", "This app requests minimal permissions with low privacy impact."},
	{49, "B", "Moderate", "This app requests some permissions that could affect privacy. Review the details below."},
	{69, "C", "Elevated", "This app requests several sensitive permissions. Consider whether all are necessary."},
	{84, "D", "High", "This app requests multiple high-risk permissions that significantly impact user privacy."},
	{100, "F", "Critical", "This app requests an alarming number of sensitive permissions. Extreme caution is advised."},
}

// GradeFor 按升序取第一个满足 score <= Max 的等级
func GradeFor(score int) GradeInfo {
	for _, g := range grades {
		if score <= g.Max {
			return g
		}
	}
	return grades[len(grades)-1]
}
