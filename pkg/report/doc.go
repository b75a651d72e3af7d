// Package report projects engine results, state and drift into documents.
//
// Every command's output is first built into a Document. RenderText and
// RenderJSON are the only renderers and both consume the same Document, so
// the human-readable and single-line machine-readable outputs cannot drift
// apart.
//
//	doc := report.VerifyDocument(result)
//	if jsonOutput {
//		return report.RenderJSON(os.Stdout, doc)
//	}
//	return report.RenderText(os.Stdout, doc)
//
// Diff compares two JSON artifacts (for example two saved plans) field by
// field.
package report
