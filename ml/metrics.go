package ml

import (
	"fmt"
	"strings"
)

// Accuracy returns the fraction of positions where yPred equals yTrue.
func Accuracy(yTrue, yPred []string) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	var correct int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}

// ClassMetrics holds per-label precision, recall and F1.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ClassificationReport summarises held-out predictions.
type ClassificationReport struct {
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Support     int            `json:"support"`
}

// NewClassificationReport computes metrics for every label in labels plus
// any label appearing only in yTrue or yPred.
func NewClassificationReport(labels, yTrue, yPred []string) *ClassificationReport {
	all := sortedUnique(append(append(append([]string(nil), labels...), yTrue...), yPred...))

	tp := make(map[string]int)
	predicted := make(map[string]int)
	actual := make(map[string]int)
	for i := range yTrue {
		actual[yTrue[i]]++
		predicted[yPred[i]]++
		if yTrue[i] == yPred[i] {
			tp[yTrue[i]]++
		}
	}

	report := &ClassificationReport{
		Accuracy: Accuracy(yTrue, yPred),
		Support:  len(yTrue),
	}
	report.MacroAvg.Label = "macro avg"
	report.WeightedAvg.Label = "weighted avg"

	for _, label := range all {
		m := ClassMetrics{Label: label, Support: actual[label]}
		if predicted[label] > 0 {
			m.Precision = float64(tp[label]) / float64(predicted[label])
		}
		if actual[label] > 0 {
			m.Recall = float64(tp[label]) / float64(actual[label])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes = append(report.Classes, m)

		report.MacroAvg.Precision += m.Precision
		report.MacroAvg.Recall += m.Recall
		report.MacroAvg.F1 += m.F1
		if report.Support > 0 {
			w := float64(m.Support) / float64(report.Support)
			report.WeightedAvg.Precision += w * m.Precision
			report.WeightedAvg.Recall += w * m.Recall
			report.WeightedAvg.F1 += w * m.F1
		}
	}
	if n := float64(len(all)); n > 0 {
		report.MacroAvg.Precision /= n
		report.MacroAvg.Recall /= n
		report.MacroAvg.F1 /= n
	}
	report.MacroAvg.Support = report.Support
	report.WeightedAvg.Support = report.Support
	return report
}

// String renders the report as a text table.
func (r *ClassificationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%16s %10s %10s %10s %10s\n", "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		writeRow(&b, m)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%16s %10s %10s %10.2f %10d\n", "accuracy", "", "", r.Accuracy, r.Support)
	writeRow(&b, r.MacroAvg)
	writeRow(&b, r.WeightedAvg)
	return b.String()
}

func writeRow(b *strings.Builder, m ClassMetrics) {
	fmt.Fprintf(b, "%16s %10.2f %10.2f %10.2f %10d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
}
