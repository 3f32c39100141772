package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// applyTextTerms are anchor-text phrases that point at an application form.
var applyTextTerms = []string{
	"apply", "apply now", "apply online", "apply here", "official website",
	"official notification", "register", "registration", "careers", "career",
}

// careerHrefTerms are URL fragments typical of applicant tracking pages.
var careerHrefTerms = []string{"career", "jobs", "recruit", "apply", "hiring", "talent"}

// labelPhrases introduce the official link in the surrounding text.
var labelPhrases = []string{
	"apply link", "click here", "official notification", "apply online",
	"registration link", "official website", "apply here",
}

// jobRowMarkers mark a table row as a job-link row.
var jobRowMarkers = []string{"apply", "link", "click here"}

// titleIgnoreWords are frequent title words that say nothing about the company.
var titleIgnoreWords = map[string]struct{}{
	"off": {}, "campus": {}, "hiring": {}, "recruitment": {}, "job": {}, "jobs": {},
	"vacancy": {}, "careers": {}, "career": {}, "freshers": {}, "fresher": {},
	"apply": {}, "online": {}, "drive": {}, "engineer": {}, "developer": {},
	"analyst": {}, "manager": {}, "specialist": {}, "intern": {}, "internship": {},
	"with": {}, "from": {}, "batch": {}, "role": {}, "opening": {}, "openings": {},
}

var jobHeadingPattern = regexp.MustCompile(
	`(?i)\b(hiring|recruitment|jobs?|vacanc(y|ies)|careers?|openings?|internships?|drive|engineer|developer|analyst|position|role)\b`)

var yearWord = regexp.MustCompile(`^(19|20)\d\d$`)

// companyKeywords extracts distinctive words from a page title that are
// likely to appear in the employer's own domain.
func companyKeywords(title string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, title)
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.Fields(cleaned) {
		if len(w) <= 3 || yearWord.MatchString(w) {
			continue
		}
		if _, skip := titleIgnoreWords[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func countTerms(haystack string, terms []string) int {
	haystack = strings.ToLower(haystack)
	n := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			n++
		}
	}
	return n
}

func containsAny(haystack string, terms []string) bool {
	return countTerms(haystack, terms) > 0
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
