// Package paydirt collects an S3 storage-usage inventory for one AWS
// account or a whole AWS Organization and exports it to CSV. For every
// bucket it can report the region, total stored bytes, the per-storage-
// class breakdown, tags, and the owning account.
//
// In organizations with a lot of accounts nobody can say where the
// storage spend actually sits. This tool digs through every account and
// surfaces the buckets worth looking at, hence the name.
//
// # Columns And Facts
//
// The shape of the report is declarative. Every output column is a
// ColumnDef: a name, an enabled flag, the set of facts it needs, and a
// render function. Every expensive piece of information (the tag set, a
// CloudWatch size query) is a fact, registered once in a Registry under
// a FactKey. Before any bucket is touched the survey computes which
// facts the enabled columns actually need; facts that only disabled
// columns want are never fetched at all. Per bucket, each needed fact is
// fetched exactly once and cached no matter how many columns read it.
//
// A fact fetch that fails does not fail the bucket: the fact stays
// absent, the affected columns render their neutral value, and the row
// is still emitted. A bucket whose region cannot be determined is
// skipped. An account that cannot be assumed is skipped and recorded.
// The survey always runs to completion and writes whatever it found.
//
// To add a column, register any new fact it needs and append a
// ColumnDef; no collection code changes. To drop a column from the
// report, disable it; the survey stops fetching whatever only it needed.
//
// # Usage
//
// Create a paydirt.Survey and call the Start() method on it. After the
// survey is complete the rows are available on the Survey and can be
// written out with ExportCSV(). Per-account failures from a multi
// account run are available from Skipped().
//
// # Sample
//
// Below is a sample main package you could use to survey the current
// account's buckets and write the report.
//
//	package main
//
//	import (
//		"github.com/GESkunkworks/paydirt"
//		"github.com/aws/aws-sdk-go/aws/session"
//	)
//
//	func main() {
//		sess := session.Must(session.NewSession())
//		svyInput := paydirt.SurveyInput{
//			Session: sess,
//		}
//		svy, err := paydirt.New(&svyInput)
//		if err != nil { panic(err) }
//		err = svy.Start()
//		if err != nil { panic(err) }
//		err = svy.ExportCSV()
//		if err != nil { panic(err) }
//	}
package paydirt
