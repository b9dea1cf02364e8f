package domain

import "regexp"

// awbPattern matches an air waybill number: a standalone run of 10 to 15 digits.
var awbPattern = regexp.MustCompile(`\b\d{10,15}\b`)

// ContainsAWB reports whether text mentions a waybill number.
func ContainsAWB(text string) bool {
	return awbPattern.MatchString(text)
}

// ExtractAWBs returns the distinct waybill numbers in text, in order.
func ExtractAWBs(text string) []string {
	found := awbPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(found))
	out := make([]string, 0, len(found))
	for _, awb := range found {
		if !seen[awb] {
			seen[awb] = true
			out = append(out, awb)
		}
	}
	return out
}
