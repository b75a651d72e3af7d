package report

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/endstate/pkg/engine"
	"github.com/openfroyo/endstate/pkg/stores"
)

// Kind identifies the command a document was built for.
type Kind string

const (
	KindApply   Kind = "apply"
	KindPlan    Kind = "plan"
	KindVerify  Kind = "verify"
	KindReport  Kind = "report"
	KindDiff    Kind = "diff"
	KindHistory Kind = "history"
	KindMessage Kind = "message"
)

// Document is the single source for both renderings of a command's output.
// Data is the authoritative structured result and is what RenderJSON emits;
// Fields and Tables are its text projection.
type Document struct {
	Kind   Kind
	Title  string
	Fields []Field
	Tables []Table
	Data   any
}

// Field is one labelled value.
type Field struct {
	Name  string
	Value string
}

// Table is a titled grid. Empty tables are not rendered.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

func field(name string, value any) Field {
	return Field{Name: name, Value: fmt.Sprint(value)}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

// ApplyDocument renders an apply result.
func ApplyDocument(res *engine.ApplyResult) Document {
	title := "apply"
	if res.DryRun {
		title = "apply (dry run)"
	}

	c := res.Counts
	fields := []Field{
		field("run", res.RunID),
		field("manifest", res.ManifestPath),
		field("hash", res.ManifestHash),
		field("total", c.Total),
	}
	if res.DryRun {
		fields = append(fields,
			field("would install", c.WouldInstall),
			field("would upgrade", c.WouldUpgrade),
		)
	} else {
		fields = append(fields,
			field("installed", c.Installed),
			field("upgraded", upgradedValue(c)),
		)
	}
	fields = append(fields,
		field("already installed", c.AlreadyInstalled),
		field("skipped", c.SkippedFiltered+c.SkippedNoRef),
		field("failed", c.Failed),
	)

	tables := []Table{itemTable("items", res.Items)}
	if v := res.VerifyResult; v != nil {
		fields = append(fields, field("verify", verifyLine(v)))
		tables = append(tables, appTable("extra apps", v.ExtraApps))
	}
	fields = append(fields, field("result", outcome(res.Success)), field("exit code", res.ExitCode))

	return Document{Kind: KindApply, Title: title, Fields: fields, Tables: tables, Data: res}
}

// PlanDocument renders a plan.
func PlanDocument(p *engine.Plan) Document {
	return Document{
		Kind:  KindPlan,
		Title: "plan",
		Fields: []Field{
			field("run", p.RunID),
			field("manifest", p.ManifestPath),
			field("hash", p.ManifestHash),
			field("created", p.CreatedAtUTC),
			field("would install", p.Counts.WouldInstall),
			field("would upgrade", p.Counts.WouldUpgrade),
			field("already installed", p.Counts.AlreadyInstalled),
			field("failed", p.Counts.Failed),
		},
		Tables: []Table{itemTable("items", p.Items)},
		Data:   p,
	}
}

// VerifyDocument renders a verify result.
func VerifyDocument(v *engine.VerifyResult) Document {
	return Document{
		Kind:  KindVerify,
		Title: "verify",
		Fields: []Field{
			field("run", v.RunID),
			field("manifest", v.ManifestPath),
			field("ok", v.OkCount),
			field("missing", v.MissingCount),
			field("version mismatches", v.VersionMismatches),
			field("errors", v.ErrorCount),
			field("extra", v.ExtraCount),
			field("result", outcome(v.Success)),
			field("exit code", v.ExitCode),
		},
		Tables: []Table{
			itemTable("items", v.Items),
			appTable("extra apps", v.ExtraApps),
		},
		Data: v,
	}
}

// ReportDocument renders a state report.
func ReportDocument(r Report) Document {
	doc := Document{Kind: KindReport, Title: "report", Data: r}
	if !r.HasState {
		doc.Fields = append(doc.Fields, field("state", "none (nothing has been applied or verified)"))
	}

	if s := r.State; s != nil {
		doc.Fields = append(doc.Fields, field("schema version", s.SchemaVersion))
		if la := s.LastApplied; la != nil {
			doc.Fields = append(doc.Fields, field("last applied", la.TimestampUTC+" "+la.ManifestPath))
		} else {
			doc.Fields = append(doc.Fields, field("last applied", "never"))
		}
		if lv := s.LastVerify; lv != nil {
			doc.Fields = append(doc.Fields,
				field("last verify", lv.TimestampUTC+" "+outcome(lv.Success)),
				field("verify counts", fmt.Sprintf("%d ok, %d missing, %d version mismatches",
					lv.OkCount, lv.MissingCount, lv.VersionMismatchCount)),
			)
		} else {
			doc.Fields = append(doc.Fields, field("last verify", "never"))
		}

		observed := Table{Title: "observed apps", Columns: []string{"ID", "DRIVER", "INSTALLED", "VERSION", "SATISFIED", "LAST SEEN"}}
		for _, id := range observedIDs(s) {
			app := s.AppsObserved[id]
			observed.Rows = append(observed.Rows, []string{
				id, app.Driver, strconv.FormatBool(app.Installed), orDash(app.Version),
				strconv.FormatBool(app.VersionSatisfied), app.LastSeenUTC,
			})
		}
		doc.Tables = append(doc.Tables, observed)
	}

	if m := r.Manifest; m != nil {
		doc.Fields = append(doc.Fields,
			field("manifest", m.Path),
			field("manifest apps", m.AppCount),
			field("manifest applied", m.Applied),
		)
	}

	if d := r.Drift; d != nil {
		doc.Fields = append(doc.Fields,
			field("drift missing", d.MissingCount),
			field("drift extra", d.ExtraCount),
		)
		doc.Tables = append(doc.Tables,
			appTable("missing apps", d.Missing),
			appTable("extra apps", d.Extra),
		)
	}

	return doc
}

// DiffDocument renders a delta between the artifacts at left and right.
func DiffDocument(left, right string, d *Delta) Document {
	changes := Table{Title: "changes", Columns: []string{"", "PATH", "BEFORE", "AFTER"}}
	for _, c := range d.Removed {
		changes.Rows = append(changes.Rows, []string{"-", c.Path, string(c.Before), ""})
	}
	for _, c := range d.Added {
		changes.Rows = append(changes.Rows, []string{"+", c.Path, "", string(c.After)})
	}
	for _, c := range d.Changed {
		changes.Rows = append(changes.Rows, []string{"~", c.Path, string(c.Before), string(c.After)})
	}

	return Document{
		Kind:  KindDiff,
		Title: "diff",
		Fields: []Field{
			field("left", left),
			field("right", right),
			field("added", len(d.Added)),
			field("removed", len(d.Removed)),
			field("changed", len(d.Changed)),
		},
		Tables: []Table{changes},
		Data: struct {
			Left  string `json:"left"`
			Right string `json:"right"`
			*Delta
		}{left, right, d},
	}
}

// HistoryDocument renders recorded runs, newest first.
func HistoryDocument(runs []*stores.Run) Document {
	table := Table{Title: "runs", Columns: []string{"ID", "COMMAND", "STATUS", "EXIT", "STARTED", "DURATION", "MANIFEST"}}
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		table.Rows = append(table.Rows, []string{
			r.ID, r.Command, string(r.Status), strconv.Itoa(r.ExitCode),
			r.StartedAt.UTC().Format(time.RFC3339), duration, r.ManifestPath,
		})
	}

	if runs == nil {
		runs = []*stores.Run{}
	}
	return Document{
		Kind:   KindHistory,
		Title:  "history",
		Fields: []Field{field("runs", len(runs))},
		Tables: []Table{table},
		Data:   map[string]any{"runs": runs},
	}
}

// MessageDocument renders a simple command outcome such as a state reset.
// The JSON form is an object of the fields.
func MessageDocument(title string, fields ...Field) Document {
	data := make(map[string]string, len(fields)+1)
	data["command"] = title
	for _, f := range fields {
		data[jsonKey(f.Name)] = f.Value
	}
	return Document{Kind: KindMessage, Title: title, Fields: fields, Data: data}
}

// ErrorDocument renders a failure that ended command before it produced a
// result. Errors that are not classified are reported as internal errors.
func ErrorDocument(command string, err error) Document {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		ee = engine.NewFatalError(engine.ErrCodeInternal, err.Error(), nil)
	}
	exitCode := engine.ExitCode(ee)

	return Document{
		Kind:  KindMessage,
		Title: command,
		Fields: []Field{
			field("code", ee.Code),
			field("error", err.Error()),
			field("result", outcome(false)),
			field("exit code", exitCode),
		},
		Data: map[string]any{
			"command":  command,
			"success":  false,
			"exitCode": exitCode,
			"error":    ee,
		},
	}
}

// NewField builds a Field from any value.
func NewField(name string, value any) Field {
	return field(name, value)
}

func itemTable(title string, items []engine.RunItem) Table {
	t := Table{Title: title, Columns: []string{"ID", "DRIVER", "STATUS", "REASON", "VERSION", "MESSAGE"}}
	for _, item := range items {
		t.Rows = append(t.Rows, []string{
			item.ID, item.Driver, string(item.Status), item.Reason,
			orDash(item.Version), orDash(item.Message),
		})
	}
	return t
}

func appTable(title string, ids []string) Table {
	t := Table{Title: title, Columns: []string{"ID"}}
	for _, id := range ids {
		t.Rows = append(t.Rows, []string{id})
	}
	return t
}

func verifyLine(v *engine.VerifyResult) string {
	return fmt.Sprintf("%d ok, %d missing, %d version mismatches, %d errors, %d extra",
		v.OkCount, v.MissingCount, v.VersionMismatches, v.ErrorCount, v.ExtraCount)
}

func upgradedValue(c engine.Counts) string {
	if c.UpgradeWarnings == 0 {
		return strconv.Itoa(c.Upgraded)
	}
	return fmt.Sprintf("%d (%d with warnings)", c.Upgraded, c.UpgradeWarnings)
}

func observedIDs(s *stores.EngineState) []string {
	ids := make([]string, 0, len(s.AppsObserved))
	for id := range s.AppsObserved {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// jsonKey turns a field label such as "state path" into "statePath".
func jsonKey(name string) string {
	parts := strings.Fields(name)
	for i := 1; i < len(parts); i++ {
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
