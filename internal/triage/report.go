package triage

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MinReportChars is the shortest report text worth analyzing.
const MinReportChars = 10

var ErrReportTooShort = fmt.Errorf("report text must be at least %d characters", MinReportChars)

// ErrReportInvalid is returned for provider report output that fails validation.
var ErrReportInvalid = errors.New("report analysis is incomplete")

// ReportSeverity rates a whole report by how many values fall outside range.
type ReportSeverity string

const (
	ReportNormal      ReportSeverity = "NORMAL"
	ReportMild        ReportSeverity = "MILD"
	ReportModerate    ReportSeverity = "MODERATE"
	ReportSignificant ReportSeverity = "SIGNIFICANT"
)

// Lab value statuses.
const (
	LabNormal  = "NORMAL"
	LabLow     = "LOW"
	LabHigh    = "HIGH"
	LabUnknown = "UNKNOWN"
)

type NormalRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Unit string  `json:"unit"`
}

func (r NormalRange) String() string {
	return formatNumber(r.Min) + "-" + formatNumber(r.Max)
}

// LabValue is one "name value unit" reading found in a report. NormalRange is nil
// for tests without a reference range, whose Status is then UNKNOWN.
type LabValue struct {
	Test        string       `json:"test"`
	Value       float64      `json:"value"`
	Unit        string       `json:"unit"`
	NormalRange *NormalRange `json:"normal_range,omitempty"`
	Status      string       `json:"status"`
}

type Abnormality struct {
	Test        string  `json:"test"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	NormalRange string  `json:"normal_range,omitempty"`
	Status      string  `json:"status"`
	Deviation   string  `json:"deviation,omitempty"`
}

// ReportAnalysis explains a lab report. Method is "rules" or "understanding".
type ReportAnalysis struct {
	Summary         string         `json:"summary"`
	KeyFindings     []string       `json:"key_findings"`
	LabValues       []LabValue     `json:"lab_values"`
	Abnormalities   []Abnormality  `json:"abnormalities"`
	Explanation     string         `json:"explanation"`
	Severity        ReportSeverity `json:"severity"`
	Recommendations []string       `json:"recommendations"`
	Method          string         `json:"method"`
}

var (
	// "Glucose: 150 mg/dL" and "Glucose 150 mg/dL". Matches stay on one line.
	labColonPattern = regexp.MustCompile(`(?i)\b([a-z]+(?:[ \t]+[a-z0-9]+)?)[ \t]*:[ \t]*([0-9]+(?:\.[0-9]+)?)[ \t]*([a-zµ%]+(?:/[a-z0-9µ]+)?)`)
	labSpacePattern = regexp.MustCompile(`(?i)\b([a-z]+(?:[ \t]+[a-z]+)?)[ \t]+([0-9]+(?:\.[0-9]+)?)[ \t]*([a-zµ%]+(?:/[a-z0-9µ]+)?)`)

	commonLabTests = []string{
		"glucose", "hemoglobin", "wbc", "rbc", "platelet", "cholesterol",
		"hdl", "ldl", "triglycerides", "creatinine", "bun", "alt", "ast",
		"bilirubin", "sodium", "potassium", "calcium",
	}

	normalRanges = []struct {
		test string
		rng  NormalRange
	}{
		{"glucose", NormalRange{Min: 70, Max: 100, Unit: "mg/dL"}},
		{"hemoglobin", NormalRange{Min: 13, Max: 17, Unit: "g/dL"}},
		{"wbc", NormalRange{Min: 4, Max: 11, Unit: "K/uL"}},
		{"cholesterol", NormalRange{Min: 0, Max: 200, Unit: "mg/dL"}},
		{"creatinine", NormalRange{Min: 0.6, Max: 1.2, Unit: "mg/dL"}},
	}
)

// hasTestWord reports whether a word of name starts with key, so "Platelets"
// matches "platelet" while "last" does not match "ast".
func hasTestWord(name, key string) bool {
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if strings.HasPrefix(w, key) {
			return true
		}
	}
	return false
}

func isLabTest(name string) bool {
	for _, key := range commonLabTests {
		if hasTestWord(name, key) {
			return true
		}
	}
	return false
}

// LookupNormalRange returns the reference range for a test name.
func LookupNormalRange(name string) (NormalRange, bool) {
	for _, r := range normalRanges {
		if hasTestWord(name, r.test) {
			return r.rng, true
		}
	}
	return NormalRange{}, false
}

// ExtractLabValues finds recognized lab readings in text order.
func ExtractLabValues(text string) []LabValue {
	type hit struct {
		start int
		lab   LabValue
	}
	var hits []hit
	seen := make(map[int]bool)
	for _, re := range []*regexp.Regexp{labColonPattern, labSpacePattern} {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if seen[m[4]] {
				continue
			}
			name := strings.TrimSpace(text[m[2]:m[3]])
			if !isLabTest(name) {
				continue
			}
			value, err := strconv.ParseFloat(text[m[4]:m[5]], 64)
			if err != nil {
				continue
			}
			seen[m[4]] = true
			hits = append(hits, hit{start: m[0], lab: classifyLab(name, value, text[m[6]:m[7]])})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	out := make([]LabValue, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.lab)
	}
	return out
}

func classifyLab(name string, value float64, unit string) LabValue {
	lab := LabValue{Test: name, Value: value, Unit: strings.TrimSpace(unit), Status: LabUnknown}
	rng, ok := LookupNormalRange(name)
	if !ok {
		return lab
	}
	lab.NormalRange = &rng
	switch {
	case value < rng.Min:
		lab.Status = LabLow
	case value > rng.Max:
		lab.Status = LabHigh
	default:
		lab.Status = LabNormal
	}
	return lab
}

// FindAbnormalities lists the values outside their reference range with the
// percentage distance from the nearest bound.
func FindAbnormalities(labs []LabValue) []Abnormality {
	out := []Abnormality{}
	for _, lab := range labs {
		if lab.NormalRange == nil || (lab.Status != LabLow && lab.Status != LabHigh) {
			continue
		}
		rng := *lab.NormalRange
		a := Abnormality{
			Test:        lab.Test,
			Value:       lab.Value,
			Unit:        lab.Unit,
			NormalRange: rng.String(),
			Status:      lab.Status,
		}
		if lab.Status == LabLow && rng.Min > 0 {
			a.Deviation = fmt.Sprintf("%.1f%% below normal", (rng.Min-lab.Value)/rng.Min*100)
		}
		if lab.Status == LabHigh && rng.Max > 0 {
			a.Deviation = fmt.Sprintf("%.1f%% above normal", (lab.Value-rng.Max)/rng.Max*100)
		}
		out = append(out, a)
	}
	return out
}

// RateReport maps the abnormality count onto a report severity.
func RateReport(abnormalities []Abnormality) ReportSeverity {
	switch n := len(abnormalities); {
	case n == 0:
		return ReportNormal
	case n <= 2:
		return ReportMild
	case n <= 4:
		return ReportModerate
	default:
		return ReportSignificant
	}
}

func ReportRecommendations(abnormalities []Abnormality) []string {
	if len(abnormalities) == 0 {
		return []string{"All values within normal range. Continue regular checkups.", Disclaimer}
	}
	out := []string{
		"Consult with your healthcare provider about abnormal values.",
		"Share this report with your doctor during your next visit.",
	}
	if len(abnormalities) >= 3 {
		out = append(out, "Consider scheduling a follow-up appointment within 1-2 weeks.")
	}
	return append(out, Disclaimer)
}

// AnalyzeReportText is the deterministic report analysis.
func AnalyzeReportText(text string) ReportAnalysis {
	labs := ExtractLabValues(text)
	abnormal := FindAbnormalities(labs)

	findings := make([]string, 0, len(abnormal))
	for _, a := range abnormal {
		findings = append(findings, describeAbnormality(a))
	}

	return ReportAnalysis{
		Summary:         reportSummary(len(labs), len(abnormal)),
		KeyFindings:     findings,
		LabValues:       labs,
		Abnormalities:   abnormal,
		Explanation:     reportExplanation(abnormal),
		Severity:        RateReport(abnormal),
		Recommendations: ReportRecommendations(abnormal),
		Method:          "rules",
	}
}

func reportSummary(labs, abnormal int) string {
	if labs == 0 {
		return "No recognizable lab values were found in the report."
	}
	s := fmt.Sprintf("Report contains %d recognized lab value(s)", labs)
	if abnormal > 0 {
		s += fmt.Sprintf(", and %d abnormal lab value(s)", abnormal)
	}
	return s + "."
}

func reportExplanation(abnormal []Abnormality) string {
	if len(abnormal) == 0 {
		return "No significant findings."
	}
	lines := []string{"**Abnormal Values:**"}
	for i, a := range abnormal {
		if i == 5 {
			break
		}
		lines = append(lines, "- "+describeAbnormality(a))
	}
	return strings.Join(lines, "\n")
}

func describeAbnormality(a Abnormality) string {
	s := fmt.Sprintf("%s: %s %s (%s", a.Test, formatNumber(a.Value), a.Unit, a.Status)
	if a.Deviation != "" {
		s += " - " + a.Deviation
	}
	return s + ")"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
